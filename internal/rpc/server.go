// Package rpc implements the governance/operator JSON-RPC 2.0 surface:
// hu.state, hu.commitment_at, dao.submit, dao.vote, domc.commit,
// domc.reveal, masternode.init, masternode.list, masternode.status
// (spec.md §6). It never touches consensus state directly — every
// handler reads or writes through the same component stores the connect
// driver uses, so there is nothing RPC-specific about their semantics.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/piv2-project/khu-consensus/config"
	"github.com/piv2-project/khu-consensus/internal/chain"
	"github.com/piv2-project/khu-consensus/internal/dao"
	"github.com/piv2-project/khu-consensus/internal/domc"
	"github.com/piv2-project/khu-consensus/internal/finality"
	"github.com/piv2-project/khu-consensus/internal/khu"
	klog "github.com/piv2-project/khu-consensus/internal/log"
	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// defaultOnlineWindow is the expected heartbeat interval used to judge
// whether a masternode is online for masternode.list/masternode.status
// reporting; IsOnline itself applies its own 2x grace factor.
const defaultOnlineWindow = 10 * time.Minute

// Server is the JSON-RPC 2.0 HTTP server exposing the governance surface.
type Server struct {
	addr     string
	chain    *chain.Chain
	states   *khu.Store
	registry *masternode.Registry
	tracker  *masternode.Tracker
	payouts  *masternode.PayoutLedger
	daoStore *dao.Store
	domc     *domc.Store
	finality *finality.Store
	genesis  *config.Genesis

	localProTxHash types.Hash // zero if this node runs no masternode
	localKey       *crypto.PrivateKey
	keystoreDir    string

	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // empty = allow all
}

// New creates a governance RPC server wired to every component store the
// connect driver itself reads and writes.
func New(addr string, ch *chain.Chain, states *khu.Store, registry *masternode.Registry,
	tracker *masternode.Tracker, payouts *masternode.PayoutLedger, daoStore *dao.Store,
	domcStore *domc.Store, finalityStore *finality.Store, gen *config.Genesis, allowedIPs []string) *Server {

	s := &Server{
		addr:        addr,
		chain:       ch,
		states:      states,
		registry:    registry,
		tracker:     tracker,
		payouts:     payouts,
		daoStore:    daoStore,
		domc:        domcStore,
		finality:    finalityStore,
		genesis:     gen,
		allowedNets: parseAllowedIPs(allowedIPs),
		logger:      klog.RPC,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// SetLocalMasternode attaches this node's own masternode identity, used as
// the default MnOutpoint/ProTxHash for dao.vote/domc.commit/domc.reveal/
// masternode.status when the caller omits one.
func (s *Server) SetLocalMasternode(proTxHash types.Hash, key *crypto.PrivateKey) {
	s.localProTxHash = proTxHash
	s.localKey = key
}

// SetKeystoreDir sets the directory masternode.init writes a newly derived
// operator key file into.
func (s *Server) SetKeystoreDir(dir string) {
	s.keystoreDir = dir
}

// persistOperatorKey writes key's raw bytes, hex-encoded, to
// <keystoreDir>/<proTxHash>.key. A no-op if no keystore directory is
// configured. Unlike the wallet keystore this replaces, a masternode
// operator key has no separate unlock password: the file's permissions
// are the only protection, matching the PIVX-family masternode.conf
// convention.
func (s *Server) persistOperatorKey(proTxHash types.Hash, key *crypto.PrivateKey) error {
	if s.keystoreDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.keystoreDir, 0700); err != nil {
		return fmt.Errorf("create keystore dir: %w", err)
	}
	path := filepath.Join(s.keystoreDir, proTxHash.String()+".key")
	data := []byte(hex.EncodeToString(key.Serialize()))
	return os.WriteFile(path, data, 0600)
}

func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine, returning
// once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("rpc server error")
		}
	}()

	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if len(s.allowedNets) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !s.isIPAllowed(ip) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, `jsonrpc must be "2.0"`)
		return
	}

	result, rpcErr := s.dispatch(&req)
	if rpcErr != nil {
		writeJSON(w, Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID})
		return
	}
	writeJSON(w, Response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func (s *Server) dispatch(req *Request) (interface{}, *Error) {
	switch req.Method {
	case "hu.state":
		return s.handleHuState(req)
	case "hu.commitment_at":
		return s.handleHuCommitmentAt(req)
	case "dao.submit":
		return s.handleDaoSubmit(req)
	case "dao.vote":
		return s.handleDaoVote(req)
	case "domc.commit":
		return s.handleDomcCommit(req)
	case "domc.reveal":
		return s.handleDomcReveal(req)
	case "masternode.init":
		return s.handleMasternodeInit(req)
	case "masternode.list":
		return s.handleMasternodeList(req)
	case "masternode.status":
		return s.handleMasternodeStatus(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message}, ID: id})
}

func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// parseParams unmarshals the request params into target.
func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
