// Package opcua adapts an OPC UA server to device.Client.
//
// Tags are addressed by dotted browse-name paths relative to a browse root
// (the Objects folder by default), so the variable Objects/TurbineSensors/T1
// is the tag "TurbineSensors.T1". A tag name that parses as a NodeID
// ("ns=2;s=Flag") is used as-is.
package opcua

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/Iron-Ham/shadowbridge/internal/device"
	"github.com/Iron-Ham/shadowbridge/internal/errors"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
)

// session is the subset of *opcua.Client used by Client.
type session interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Browse(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error)
	BrowseNext(ctx context.Context, req *ua.BrowseNextRequest) (*ua.BrowseNextResponse, error)
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
	Write(ctx context.Context, req *ua.WriteRequest) (*ua.WriteResponse, error)
}

type sessionFactory func(endpoint string, opts ...opcua.Option) (session, error)

func newGopcuaSession(endpoint string, opts ...opcua.Option) (session, error) {
	return opcua.NewClient(endpoint, opts...)
}

// Config holds session settings that do not change between connections.
type Config struct {
	BrowseRoot     string
	SecurityPolicy string
	SecurityMode   string
	CertFile       string
	KeyFile        string
	Username       string
	Password       string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	// MaxDepth bounds the recursive browse used for flat listings.
	MaxDepth int
}

// DefaultMaxDepth is used when Config.MaxDepth is zero.
const DefaultMaxDepth = 8

// Client implements device.Client over a single OPC UA session.
type Client struct {
	cfg        Config
	newSession sessionFactory
	logger     *logging.Logger

	mu    sync.Mutex
	sess  session
	root  *ua.NodeID
	nodes map[string]*ua.NodeID // resolved tag name -> node
}

var _ device.Client = (*Client)(nil)

// New creates an unconnected Client.
func New(cfg Config, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.BrowseRoot == "" {
		cfg.BrowseRoot = "i=85"
	}
	return &Client{
		cfg:        cfg,
		newSession: newGopcuaSession,
		logger:     logger.WithComponent("opcua"),
	}
}

// NewDialer returns a device.Dialer producing fresh Clients with cfg.
func NewDialer(cfg Config, logger *logging.Logger) device.Dialer {
	return func() (device.Client, error) {
		return New(cfg, logger), nil
	}
}

func (c *Client) options() []opcua.Option {
	opts := []opcua.Option{
		opcua.RequestTimeout(c.cfg.RequestTimeout),
	}

	if policy := securityPolicyURI(c.cfg.SecurityPolicy); policy != ua.SecurityPolicyURINone {
		opts = append(opts,
			opcua.SecurityPolicy(policy),
			opcua.SecurityModeString(c.cfg.SecurityMode),
		)
		if c.cfg.CertFile != "" {
			opts = append(opts,
				opcua.CertificateFile(c.cfg.CertFile),
				opcua.PrivateKeyFile(c.cfg.KeyFile),
			)
		}
	}

	if c.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func securityPolicyURI(name string) string {
	switch name {
	case "Basic128Rsa15":
		return ua.SecurityPolicyURIBasic128Rsa15
	case "Basic256":
		return ua.SecurityPolicyURIBasic256
	case "Basic256Sha256":
		return ua.SecurityPolicyURIBasic256Sha256
	default:
		return ua.SecurityPolicyURINone
	}
}

// Connect opens a session with the server at endpoint.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		return nil
	}

	root, err := ua.ParseNodeID(c.cfg.BrowseRoot)
	if err != nil {
		return errors.NewConnectionError("invalid browse root", err).WithTag(c.cfg.BrowseRoot)
	}

	sess, err := c.newSession(endpoint, c.options()...)
	if err != nil {
		return errors.NewConnectionError("create OPC UA client", err)
	}

	connectCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	if err := sess.Connect(connectCtx); err != nil {
		// Release whatever the failed handshake allocated on the server.
		_ = sess.Close(context.Background())
		return errors.NewConnectionError(fmt.Sprintf("connect to %s", endpoint), err)
	}

	c.sess = sess
	c.root = root
	c.nodes = make(map[string]*ua.NodeID)
	c.logger.Debug("session opened", "endpoint", endpoint)
	return nil
}

// Disconnect closes the session. It is a no-op when not connected.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return nil
	}
	err := c.sess.Close(ctx)
	c.sess = nil
	c.nodes = nil
	if err != nil {
		return errors.NewConnectionError("close session", err)
	}
	c.logger.Debug("session closed")
	return nil
}

func (c *Client) session() (session, error) {
	if c.sess == nil {
		return nil, errors.NewConnectionError("device client", errors.ErrNotConnected)
	}
	return c.sess, nil
}

// List browses from the root and returns tag names matching pattern.
func (c *Client) List(ctx context.Context, pattern string, flat bool) ([]string, error) {
	g, err := device.CompilePattern(pattern)
	if err != nil {
		return nil, errors.NewConnectionError("list tags", errors.Join(errors.ErrInvalidInput, err)).WithTag(pattern)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.session()
	if err != nil {
		return nil, err
	}

	depth := 1
	if flat {
		depth = c.cfg.MaxDepth
	}
	w := &walker{
		sess:     sess,
		prefix:   device.LiteralPrefix(pattern),
		maxDepth: depth,
		branches: !flat,
		found:    c.nodes,
	}
	names, err := w.walk(ctx, c.root)
	if err != nil {
		return nil, errors.NewConnectionError("browse address space", err).WithTag(pattern)
	}

	matched := names[:0]
	for _, name := range names {
		if g.Match(name) {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

// resolve maps tag names to node IDs, browsing path segments for names not
// seen in an earlier listing. Unresolvable names map to nil.
func (c *Client) resolve(ctx context.Context, sess session, names []string) ([]*ua.NodeID, error) {
	ids := make([]*ua.NodeID, len(names))
	for i, name := range names {
		if id, ok := c.nodes[name]; ok {
			ids[i] = id
			continue
		}
		if looksLikeNodeID(name) {
			if id, err := ua.ParseNodeID(name); err == nil {
				ids[i] = id
				continue
			}
		}
		id, err := resolvePath(ctx, sess, c.root, name)
		if err != nil {
			return nil, err
		}
		if id != nil {
			c.nodes[name] = id
		}
		ids[i] = id
	}
	return ids, nil
}

// Read performs one batch read of the named tags. Names that cannot be
// resolved come back with Bad quality and no value.
func (c *Client) Read(ctx context.Context, names []string) ([]device.Reading, error) {
	if len(names) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.session()
	if err != nil {
		return nil, err
	}

	ids, err := c.resolve(ctx, sess, names)
	if err != nil {
		return nil, errors.NewConnectionError("resolve tags", err)
	}

	values, err := readValues(ctx, sess, ids)
	if err != nil {
		return nil, errors.NewConnectionError("read tags", err)
	}

	readings := make([]device.Reading, len(names))
	for i, name := range names {
		readings[i] = device.Reading{Name: name, Quality: device.QualityBad}
		dv := values[i]
		if dv == nil {
			continue
		}
		readings[i].Quality = QualityOf(dv.Status)
		if dv.Value != nil {
			readings[i].Value = dv.Value.Value()
		}
	}
	return readings, nil
}

// readValues reads the Value attribute of every non-nil id. The result has
// one entry per id; nil ids yield nil entries.
func readValues(ctx context.Context, sess session, ids []*ua.NodeID) ([]*ua.DataValue, error) {
	req := &ua.ReadRequest{
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	}
	index := make([]int, 0, len(ids))
	for i, id := range ids {
		if id == nil {
			continue
		}
		req.NodesToRead = append(req.NodesToRead, &ua.ReadValueID{
			NodeID:       id,
			AttributeID:  ua.AttributeIDValue,
			DataEncoding: &ua.QualifiedName{},
		})
		index = append(index, i)
	}

	out := make([]*ua.DataValue, len(ids))
	if len(index) == 0 {
		return out, nil
	}

	resp, err := sess.Read(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) != len(index) {
		return nil, fmt.Errorf("server returned %d results for %d nodes", len(resp.Results), len(index))
	}
	for j, dv := range resp.Results {
		out[index[j]] = dv
	}
	return out, nil
}

// Write writes each value, converted to the node's current value type when
// the server reports one.
func (c *Client) Write(ctx context.Context, writes []device.Write) ([]device.WriteResult, error) {
	if len(writes) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.session()
	if err != nil {
		return nil, err
	}

	names := make([]string, len(writes))
	for i, w := range writes {
		names[i] = w.Name
	}
	ids, err := c.resolve(ctx, sess, names)
	if err != nil {
		return nil, errors.NewConnectionError("resolve tags", err)
	}

	current, err := readValues(ctx, sess, ids)
	if err != nil {
		c.logger.Debug("could not read current values before write", "error", err)
		current = make([]*ua.DataValue, len(ids))
	}

	results := make([]device.WriteResult, len(writes))
	req := &ua.WriteRequest{}
	index := make([]int, 0, len(writes))

	for i, w := range writes {
		results[i].Name = w.Name
		if ids[i] == nil {
			results[i].Err = errors.NewWriteError("unknown tag", ua.StatusBadNodeIDUnknown).WithTag(w.Name)
			continue
		}

		value := w.Value
		if dv := current[i]; dv != nil && dv.Value != nil {
			converted, err := Coerce(w.Value, dv.Value.Value())
			if err != nil {
				results[i].Err = errors.NewWriteError("convert value", err).WithTag(w.Name)
				continue
			}
			value = converted
		}

		variant, err := ua.NewVariant(value)
		if err != nil {
			results[i].Err = errors.NewWriteError("encode value", err).WithTag(w.Name)
			continue
		}

		req.NodesToWrite = append(req.NodesToWrite, &ua.WriteValue{
			NodeID:      ids[i],
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        variant,
			},
		})
		index = append(index, i)
	}

	if len(index) == 0 {
		return results, nil
	}

	resp, err := sess.Write(ctx, req)
	if err != nil {
		return nil, errors.NewConnectionError("write tags", err)
	}
	if len(resp.Results) != len(index) {
		return nil, errors.NewConnectionError("write tags",
			fmt.Errorf("server returned %d results for %d nodes", len(resp.Results), len(index)))
	}

	for j, status := range resp.Results {
		i := index[j]
		if status != ua.StatusOK {
			results[i].Err = errors.NewWriteError("server rejected value", status).WithTag(writes[i].Name)
		}
	}
	return results, nil
}

// QualityOf maps an OPC UA status code to a reading quality using the
// severity bits: 00 Good, 01 Uncertain, 10/11 Bad.
func QualityOf(status ua.StatusCode) device.Quality {
	switch uint32(status) >> 30 {
	case 0:
		return device.QualityGood
	case 1:
		return device.QualityUncertain
	default:
		return device.QualityBad
	}
}
