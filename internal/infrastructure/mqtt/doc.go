// Package mqtt is the bridge's broker client: paho.mqtt.golang wrapped
// with subscription restoration on reconnect, a Last Will on
// htd/system/status, and panic isolation for message handlers.
//
// The bridge publishes retained zone state to htd/state/zone/{id} and
// consumes commands from htd/command/zone/{id}, decoupling home
// automation platforms from the controller's serial protocol.
//
//	Automation platform ↔ MQTT Broker ↔ HTD bridge ↔ Controller
//
// Topic strings are built through Topics so the scheme lives in one
// place. Credentials and TLS come from the mqtt config section.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllZoneCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
package mqtt
