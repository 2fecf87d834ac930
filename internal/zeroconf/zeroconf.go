// Package zeroconf advertises the savestated HTTP API as an mDNS/DNS-SD
// service so front-ends on the LAN can find it without configuration.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type registered for the API.
const ServiceType = "_savestates._tcp"

// Service manages mDNS service registration.
type Service struct {
	name   string
	port   int
	txt    []string
	server *zeroconf.Server
}

// New creates a zeroconf Service for the API on port. name is the instance
// name, usually the hostname; version and storeKind are published in TXT.
func New(name string, port int, version, storeKind string) *Service {
	return &Service{
		name: name,
		port: port,
		txt:  TXTRecords(version, storeKind),
	}
}

// TXTRecords returns the TXT key/value pairs describing the service.
func TXTRecords(version, storeKind string) []string {
	return []string{
		"version=" + version,
		"store=" + storeKind,
		"path=/api",
	}
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	server, err := zeroconf.Register(
		s.name,
		ServiceType,
		"local.",
		s.port,
		s.txt,
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	s.server = server
	slog.Info("zeroconf: registered mDNS service",
		"name", s.name,
		"type", ServiceType,
		"port", s.port,
		"txt", s.txt,
	)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}
