package provision

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"sync"

	pb "agones.dev/agones/pkg/allocation/go"
	pkgerrors "github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
)

// sessionIDHeader is the outgoing gRPC metadata key the allocation call is
// tagged with, so the requesting session survives in the allocator's own
// access logs even though AllocationRequest has no session-scoped field.
const sessionIDHeader = "x-neon-session-id"

// AgonesProvisioner allocates a dedicated game server from an Agones fleet
// to act as the host of a session the relay has never seen registered.
type AgonesProvisioner struct {
	mu        sync.RWMutex
	namespace string
	fleet     string

	enabled bool
	host    string
	cert    string
	key     string
	ca      string

	client pb.AllocationServiceClient
	conn   *grpc.ClientConn
}

func NewAgonesProvisioner() *AgonesProvisioner {
	return &AgonesProvisioner{}
}

// Setup configures and dials the Agones allocator. Client certificate and CA
// loading follows R2Northstar-Atlas's configureServerTLS: certificate and
// key are handed to tls.LoadX509KeyPair by path rather than read into byte
// slices first, since only the CA needs its raw PEM bytes for the pool.
func (p *AgonesProvisioner) Setup(enabled bool, namespace, fleet, host, cert, key, ca string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.enabled = enabled
	p.namespace = namespace
	p.fleet = fleet
	p.host = host
	p.cert = cert
	p.key = key
	p.ca = ca

	if !p.enabled {
		return nil
	}

	if p.conn != nil {
		p.conn.Close()
	}

	tlsConfig, err := allocatorTLSConfig(p.cert, p.key, p.ca)
	if err != nil {
		return fmt.Errorf("failed to build allocator TLS config: %w", err)
	}

	conn, err := grpc.NewClient(p.host, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	if err != nil {
		return fmt.Errorf("failed to connect to Agones allocator: %w", err)
	}

	p.conn = conn
	p.client = pb.NewAllocationServiceClient(conn)

	return nil
}

// allocatorTLSConfig builds the mutual-TLS config the Agones allocator
// requires: a client certificate presented on every call, and, when
// supplied, a CA pool the allocator's own certificate is verified against.
func allocatorTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client keypair: %w", err)
	}

	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	if caFile == "" {
		return cfg, nil
	}

	caBytes, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert file: %w", err)
	}

	cfg.RootCAs = x509.NewCertPool()
	if !cfg.RootCAs.AppendCertsFromPEM(caBytes) {
		return nil, pkgerrors.New("only PEM format is accepted for server CA")
	}

	return cfg, nil
}

// Allocate asks Agones for a game server from the configured fleet and
// returns its "ip:port", to be treated as the about-to-register host of
// sessionID. sessionID itself carries no field on AllocationRequest to ride
// in, so it's attached as outgoing gRPC metadata instead, keeping it
// traceable end to end through the allocator's own request logging.
func (p *AgonesProvisioner) Allocate(ctx context.Context, sessionID uint32) (string, error) {
	p.mu.RLock()
	client := p.client
	enabled := p.enabled
	namespace := p.namespace
	fleet := p.fleet
	p.mu.RUnlock()

	if !enabled || client == nil {
		return "", pkgerrors.New("agones provisioner is not enabled or initialized")
	}
	if fleet == "" {
		return "", pkgerrors.New("no fleet configured for on-demand provisioning")
	}

	ctx = metadata.AppendToOutgoingContext(ctx, sessionIDHeader, strconv.FormatUint(uint64(sessionID), 10))

	request := &pb.AllocationRequest{
		Namespace: namespace,
		MultiClusterSetting: &pb.MultiClusterSetting{
			Enabled: false,
		},
		RequiredGameServerSelector: &pb.GameServerSelector{
			MatchLabels: map[string]string{
				"agones.dev/fleet": fleet,
			},
		},
	}

	resp, err := client.Allocate(ctx, request)
	if err != nil {
		return "", pkgerrors.Wrap(err, "agones allocation failed")
	}

	return fmt.Sprintf("%s:%d", resp.Address, resp.Ports[0].Port), nil
}
