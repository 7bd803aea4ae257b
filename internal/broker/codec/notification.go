package codec

import "fmt"

// FormatNotification renders a delivered measurement exactly as
// "<publisher_ip>:<publisher_port> - <topic> - <TYPE> - <value>".
func FormatNotification(publisherIP string, publisherPort int, m Measurement) string {
	return fmt.Sprintf("%s:%d - %s - %s - %s", publisherIP, publisherPort, m.Topic, m.Type, m.Value)
}
