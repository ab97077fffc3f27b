package bus

import "fmt"

// Redis channel helpers.
//
// Channels are namespaced by instance name so that several lodge deployments
// can share one Redis server.
//
// Channel pattern: lodge:{instance_name}:packets

// PacketsChannel returns the Pub/Sub channel every packet of an instance is
// published on.
// Pattern: lodge:{instance_name}:packets
func PacketsChannel(instanceName string) string {
	return fmt.Sprintf("lodge:%s:packets", instanceName)
}
