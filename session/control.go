package session

import "encoding/json"

func encodeControl(msg ControlMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func decodeControl(raw []byte) (ControlMessage, error) {
	var msg ControlMessage
	err := json.Unmarshal(raw, &msg)
	return msg, err
}
