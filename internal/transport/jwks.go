package transport

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxJWKSBytes = 1 << 20

// JWKSClient caches the signing keys published by the identity provider.
// Keys are refetched once the TTL lapses; when a refetch fails, previously
// fetched keys stay usable so a provider outage does not lock users out.
type JWKSClient struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	fetchMu sync.Mutex // serializes refreshes

	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	fetchedAt time.Time
}

// NewJWKSClient creates a client for the key set at url. logger may be nil.
func NewJWKSClient(url string, ttl time.Duration, logger *zap.Logger) *JWKSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWKSClient{
		url:        url,
		ttl:        ttl,
		minRefresh: 5 * time.Minute,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		keys:       map[string]crypto.PublicKey{},
	}
}

// GetKey returns the verification key for kid, fetching the key set when
// kid is unknown or the cache is stale.
func (c *JWKSClient) GetKey(kid string) (crypto.PublicKey, error) {
	return c.key(context.Background(), kid)
}

func (c *JWKSClient) key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	key, ok, fresh := c.lookup(kid)
	if ok && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		if key, ok, _ = c.lookup(kid); ok {
			c.logger.Warn("jwks refresh failed, using cached key", zap.String("kid", kid), zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("jwks: %w", err)
	}

	if key, ok, _ = c.lookup(kid); !ok {
		return nil, fmt.Errorf("jwks: no key with kid %q", kid)
	}
	return key, nil
}

func (c *JWKSClient) lookup(kid string) (key crypto.PublicKey, ok, fresh bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	return key, ok, time.Since(c.fetchedAt) <= c.ttl
}

func (c *JWKSClient) recentlyFetched() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys) > 0 && time.Since(c.fetchedAt) < c.minRefresh
}

// refresh replaces the cached key set. Calls within minRefresh of a
// successful fetch are skipped so unknown kids cannot hammer the provider.
func (c *JWKSClient) refresh(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	if c.recentlyFetched() {
		return nil
	}

	keys, err := c.fetch(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *JWKSClient) fetch(ctx context.Context) (map[string]crypto.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set endpoint answered %d", resp.StatusCode)
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&set); err != nil {
		return nil, fmt.Errorf("decoding key set: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kid == "" || k.Use == "enc" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			c.logger.Warn("jwks key skipped", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

// HealthCheck fails only when the key set cannot be fetched and nothing was
// ever cached.
func (c *JWKSClient) HealthCheck(ctx context.Context) error {
	err := c.refresh(ctx)
	if err == nil {
		return nil
	}
	c.mu.RLock()
	cached := len(c.keys)
	c.mu.RUnlock()
	if cached > 0 {
		return nil
	}
	return err
}

type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

var errUnsupportedKey = errors.New("unsupported key type")

func (k jsonWebKey) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		n, err := decodeJWKInt("n", k.N)
		if err != nil {
			return nil, err
		}
		e, err := decodeJWKInt("e", k.E)
		if err != nil {
			return nil, err
		}
		if !e.IsInt64() {
			return nil, errors.New("rsa exponent out of range")
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil

	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := decodeJWKInt("x", k.X)
		if err != nil {
			return nil, err
		}
		y, err := decodeJWKInt("y", k.Y)
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	}
	return nil, fmt.Errorf("%w %q", errUnsupportedKey, k.Kty)
}

func decodeJWKInt(name, v string) (*big.Int, error) {
	if v == "" {
		return nil, fmt.Errorf("missing %s", name)
	}
	b, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return new(big.Int).SetBytes(b), nil
}
