// Package register registers all camera drivers
package register

import (
	// register camera drivers.
	_ "github.com/pcreg/depthcapture/components/camera/fake"
	_ "github.com/pcreg/depthcapture/components/camera/replay"
)
