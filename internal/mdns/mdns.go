// Package mdns locates an MQTT broker announced on the local network.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/casualjim/mqtt4w/pkg/slogx"
	"github.com/enbility/zeroconf/v3"
	"github.com/fogfish/opts"
)

const (
	ServiceType = "_mqtt._tcp"
	Domain      = "local."

	DefaultTimeout = 5 * time.Second
)

// ErrNotFound is returned when no broker answered before the timeout.
var ErrNotFound = errors.New("no mqtt broker announced")

// Broker is an announced broker.
type Broker struct {
	Instance  string
	Host      string
	Port      int
	Addresses []net.IP
}

// Address returns host:port, preferring an IPv4 address over the host
// name.
func (b Broker) Address() string {
	host := b.Host
	for _, ip := range b.Addresses {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(b.Addresses) > 0 {
		host = b.Addresses[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(b.Port))
}

// BrowseFunc streams service entries until ctx is done. zeroconf.Browse
// has this signature once its client options are bound.
type BrowseFunc func(ctx context.Context, service, domain string, entries, removed chan<- *zeroconf.ServiceEntry) error

// Locator finds the first broker answering a browse.
type Locator struct {
	browse  BrowseFunc
	timeout time.Duration
	iface   string
	logger  *slog.Logger
}

var (
	// WithBrowser replaces the mDNS client.
	WithBrowser = opts.ForName[Locator, BrowseFunc]("browse")

	// WithTimeout bounds a lookup.
	WithTimeout = opts.ForName[Locator, time.Duration]("timeout")

	// WithInterface restricts browsing to one network interface.
	WithInterface = opts.ForName[Locator, string]("iface")
)

func NewLocator(options ...opts.Option[Locator]) (*Locator, error) {
	l := &Locator{
		timeout: DefaultTimeout,
		logger:  slog.Default().With(slogx.LoggerName("mdns")),
	}
	if err := opts.Apply(l, options); err != nil {
		return nil, err
	}
	if l.browse == nil {
		l.browse = l.zeroconfBrowse
	}
	return l, nil
}

func (l *Locator) zeroconfBrowse(ctx context.Context, service, domain string, entries, removed chan<- *zeroconf.ServiceEntry) error {
	var clientOpts []zeroconf.ClientOption
	if l.iface != "" {
		iface, err := net.InterfaceByName(l.iface)
		if err != nil {
			return fmt.Errorf("mdns interface %s: %w", l.iface, err)
		}
		clientOpts = append(clientOpts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}
	return zeroconf.Browse(ctx, service, domain, entries, removed, clientOpts...)
}

// Locate browses for ServiceType and returns the first broker with a
// usable address.
func (l *Locator) Locate(ctx context.Context) (Broker, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- l.browse(ctx, ServiceType, Domain, entries, removed)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Broker{}, ErrNotFound
			}
			broker, ok := toBroker(entry)
			if !ok {
				continue
			}
			l.logger.Info("located broker", slog.String("instance", broker.Instance), slog.String("address", broker.Address()))
			return broker, nil
		case <-removed:
		case err := <-browseErr:
			if err != nil && ctx.Err() == nil {
				return Broker{}, fmt.Errorf("browsing %s: %w", ServiceType, err)
			}
			browseErr = nil
		case <-ctx.Done():
			return Broker{}, fmt.Errorf("%w within %s", ErrNotFound, l.timeout)
		}
	}
}

func toBroker(entry *zeroconf.ServiceEntry) (Broker, bool) {
	if entry == nil || entry.Port == 0 {
		return Broker{}, false
	}
	addrs := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	addrs = append(addrs, entry.AddrIPv4...)
	addrs = append(addrs, entry.AddrIPv6...)
	if len(addrs) == 0 && entry.HostName == "" {
		return Broker{}, false
	}
	return Broker{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      entry.Port,
		Addresses: addrs,
	}, true
}
