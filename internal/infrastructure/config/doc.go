// Package config loads the relay's settings.
//
// Values are layered: built-in defaults, then the YAML file, then the
// environment. The environment keeps the variable names of the original
// single-chat deployment (MQTT_HOST, MQTT_TOPICS, BOT_TOKEN, CHAT_ID and so
// on); when CHAT_ID is set and the file has no routes, each MQTT_TOPICS
// entry becomes a route to that chat. MQTT_TOPICS defaults to
// freezer/status,freezer/temp,freezer/door.
//
//	cfg, err := config.Load("configs/relay.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, r := range cfg.Routes {
//	    fmt.Println(r.Topic, "->", r.ChatID)
//	}
//
// Load("") reads the environment only. Keep BOT_TOKEN and MQTT_PASS out of
// the file.
package config
