package tele

import "github.com/temoto/envagent/hardware/dht"

// Payload renders reading as `{"temperature":T,"humidity":H}`, one digit after decimal point.
// Field order and formatting are fixed wire format.
func Payload(r dht.Reading) []byte {
	b := make([]byte, 0, 48)
	b = append(b, `{"temperature":`...)
	b = dht.AppendDecimal1(b, r.Temperature)
	b = append(b, `,"humidity":`...)
	b = dht.AppendDecimal1(b, r.Humidity)
	b = append(b, '}')
	return b
}

func NewRequest(endpoint string, r dht.Reading) *Request {
	return &Request{
		Endpoint:    endpoint,
		ContentType: ContentTypeJSON,
		Body:        Payload(r),
	}
}
