// Package network decides whether the current connectivity is suitable for a
// sync run.
package network

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"time"
)

// defaultDialTimeout bounds the reachability probe.
const defaultDialTimeout = 5 * time.Second

// Interface is the subset of [net.Interface] the checker inspects.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
}

// Checker probes the directory address and classifies the local interfaces.
type Checker struct {
	probeAddr string
	metered   []string
	logger    *slog.Logger

	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
	interfaces func() ([]Interface, error)
}

// NewChecker creates a Checker that dials probeAddr (host:port) and treats
// interfaces whose names match any of the metered glob patterns as metered.
func NewChecker(probeAddr string, metered []string, logger *slog.Logger) *Checker {
	d := &net.Dialer{Timeout: defaultDialTimeout}
	return &Checker{
		probeAddr:  probeAddr,
		metered:    metered,
		logger:     logger,
		dial:       d.DialContext,
		interfaces: systemInterfaces,
	}
}

// IsSuitable reports whether a sync may run now. The probe address must be
// reachable and, unless allowAnyNetwork is set, at least one active
// non-metered interface must be up.
func (c *Checker) IsSuitable(ctx context.Context, allowAnyNetwork bool) bool {
	if !allowAnyNetwork {
		ok, err := c.hasUnmeteredLink()
		if err != nil {
			c.logger.Warn("listing network interfaces failed", "error", err)
			return false
		}
		if !ok {
			c.logger.Info("only metered network links are up")
			return false
		}
	}

	if c.probeAddr == "" {
		return true
	}
	conn, err := c.dial(ctx, "tcp", c.probeAddr)
	if err != nil {
		c.logger.Info("directory not reachable", "address", c.probeAddr, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}

func (c *Checker) hasUnmeteredLink() (bool, error) {
	ifaces, err := c.interfaces()
	if err != nil {
		return false, err
	}
	for _, ifc := range ifaces {
		if !ifc.Up || ifc.Loopback || c.isMetered(ifc.Name) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (c *Checker) isMetered(name string) bool {
	for _, pattern := range c.metered {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func systemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	out := make([]Interface, 0, len(ifaces))
	for _, ifc := range ifaces {
		out = append(out, Interface{
			Name:     ifc.Name,
			Up:       ifc.Flags&net.FlagUp != 0,
			Loopback: ifc.Flags&net.FlagLoopback != 0,
		})
	}
	return out, nil
}
