//go:build nng
// +build nng

package main

import "github.com/dd0wney/cluso-election/pkg/transport"

// Built with -tags nng, instances exchange frames over NNG sockets
func carrierFactory() transport.CarrierFactory {
	return transport.NewNNGCarrierFactory(transport.DefaultNNGConfig())
}
