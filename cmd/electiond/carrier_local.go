//go:build !nng
// +build !nng

package main

import "github.com/dd0wney/cluso-election/pkg/transport"

func carrierFactory() transport.CarrierFactory {
	return transport.NewLocalCarrier
}
