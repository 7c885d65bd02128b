package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// The log collector subscribes to the log topic of every service (the
// data-logger publishes its JSON lines there) and keeps them in files on
// the Pi, so logs survive a restart of the container that produced them.
func main() {
	// 1. Own logger, stdout only: the collector must not log into itself.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := LoadConfig()
	logger.Info("Starting log collector", "topic", cfg.LogTopic, "dir", cfg.LogDir)

	// 2. Log directory
	sink, err := NewFileSink(cfg.LogDir)
	if err != nil {
		logger.Error("Cannot prepare log directory", "error", err)
		os.Exit(1)
	}

	// 3. Called for EVERY log line of any service.
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if err := sink.Append(msg.Topic(), msg.Payload()); err != nil {
			logger.Error("Failed to write log line", "topic", msg.Topic(), "error", err)
		}
	}

	// 4. MQTT with reconnect; the subscription is renewed in OnConnect
	// because the session is clean.
	opts := mqtt.NewClientOptions().AddBroker(cfg.MQTTBroker).SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetDefaultPublishHandler(handler)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if token := c.Subscribe(cfg.LogTopic, 0, nil); token.Wait() && token.Error() != nil {
			logger.Error("Subscribe failed", "topic", cfg.LogTopic, "error", token.Error())
			return
		}
		logger.Info("Listening for logs", "topic", cfg.LogTopic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	// With ConnectRetry the token completes only once connected, so it is
	// not waited on here.
	client.Connect()
	defer client.Disconnect(250)

	// 5. Wait for SIGINT / SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down log collector")
}
