// Package mqtt wraps paho.mqtt.golang for the two brokers the bridge talks
// to: the Bemfa cloud broker, where the client ID is the account key, and
// the optional local broker used for Home Assistant discovery.
//
// A Client reconnects on its own and restores every subscription after each
// reconnect. When a status topic is configured it publishes a retained
// online/offline message there and registers a matching will.
//
//	client, err := mqtt.Connect(cfg.Bemfa.MQTT, mqtt.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	_ = client.Subscribe("light002", 0, func(topic string, payload []byte) error {
//	    return nil
//	})
//	_ = client.Publish("light002/set", []byte("on#80#4000"), 0, false)
package mqtt
