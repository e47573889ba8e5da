package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/drclink-io/drclink/pkg/log"
	"github.com/drclink-io/drclink/pkg/mqtt"
)

// ExampleClient shows the standard lifecycle of the drclink MQTT component:
// configure, start, subscribe, await the connection, publish, disconnect.
func ExampleClient() {
	// 1. Prepare the configuration.
	// In a real deployment these values come from pkg/options or CLI flags.
	cfg := &mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "drclink-example-001",
		Username:       "admin",
		Password:       "public",
		KeepAlive:      60,
		ConnectTimeout: 5 * time.Second,
		// Gateways in the field often sit behind self-signed certs.
		InsecureSkipVerify: true,
		// Command links start fresh; stale session state is useless here.
		CleanStart: true,
	}

	// 2. Create the client instance. No connection is made yet.
	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	// 3. Start the client (non-blocking).
	// Start returns immediately; connection and automatic reconnects
	// happen in the background.
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}

	// 4. Define the message handler.
	// Handlers for one client run on a single dispatch goroutine in
	// arrival order, so avoid long blocking work inside them.
	myHandler := func(ctx context.Context, topic string, payload []byte) {
		fmt.Printf("Received message on topic %s: %s\n", topic, string(payload))
	}

	// 5. Subscribe. Topic filters may contain wildcards, and the client
	// automatically re-sends SUBSCRIBE packets after a reconnect.
	subTopic := "thing/product/+/drc/up"
	if err := client.Subscribe(ctx, subTopic, 0, myHandler); err != nil {
		log.Error(err, "Failed to subscribe", "topic", subTopic)
	}

	// 6. Optionally block until the connection is up, for callers that
	// must not proceed before the link is ready.
	fmt.Println("Waiting for connection...")
	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Connection timed out")
		return
	}
	fmt.Println("MQTT connected!")

	// 7. Publish with QoS 1 for at-least-once delivery.
	pubTopic := "thing/product/SN100/services"
	payload := []byte(`{"tid":"t-1","bid":"t-1","timestamp":1700000000000,"method":"return_home","data":{}}`)
	if err := client.Publish(ctx, pubTopic, 1, false, payload); err != nil {
		log.Error(err, "Failed to publish message", "topic", pubTopic)
	}

	// 8. Graceful shutdown on application exit.
	client.Disconnect(ctx)
}
