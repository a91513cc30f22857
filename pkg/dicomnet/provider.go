package dicomnet

import (
	"context"
	"net"

	"golang.org/x/time/rate"

	"pacsd/pkg/logging"
)

// Provider accepts DICOM associations and answers them through params,
// grounded on
// other_examples/096187f0_yasushi-saito-go-netdicom__serviceprovider.go.go's
// ServiceProvider.Run/RunProviderForConn accept-loop shape (net.Listen,
// blocking Accept loop, one goroutine per connection).
//
// Unlike the grounding file, this module treats DIMSE PDU framing and
// association negotiation as the opaque DICOM toolkit's job (spec.md's own
// Non-goal: "no redesign of the wire protocols; the core must reproduce
// DICOM PDU semantics exactly as negotiated by the toolkit"). Provider
// therefore drives only the verb-level callbacks in params, a real
// deployment supplies a concrete dicomtoolkit.Toolkit plus a PDU layer that
// calls into those callbacks the way RunProviderForConn does. This
// in-module accept loop invokes only the C-ECHO callback for each
// connection and logs its status; it writes no response to the peer,
// which sees the connection close without an answer.
type Provider struct {
	params  ServiceProviderParams
	limiter *rate.Limiter
}

// NewProvider wraps params for Run.
func NewProvider(params ServiceProviderParams) *Provider {
	return &Provider{params: params}
}

// SetAssociationRate bounds how many new associations Run accepts per
// second (plus a burst of the same size, at least 1), throttling a peer that opens
// connections faster than this server's association pool can drain. A
// zero or negative rate disables throttling, matching NewProvider's
// default.
func (p *Provider) SetAssociationRate(perSecond float64) {
	if perSecond <= 0 {
		p.limiter = nil
		return
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Run listens on addr and, for each accepted connection, calls the C-ECHO
// callback, logs the resulting status and closes the connection without
// writing to it, mirroring the grounding file's per-connection goroutine
// dispatch.
func (p *Provider) Run(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer listener.Close()

	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(context.Background()); err != nil {
				conn.Close()
				continue
			}
		}
		go p.serve(conn)
	}
}

func (p *Provider) serve(conn net.Conn) {
	defer conn.Close()
	if p.params.CEcho == nil {
		logging.Warnf("dicomnet: connection from %s with no CEcho handler configured", conn.RemoteAddr())
		return
	}
	status := p.params.CEcho()
	logging.Infof("dicomnet: C-ECHO from %s answered with status %d", conn.RemoteAddr(), status)
}
