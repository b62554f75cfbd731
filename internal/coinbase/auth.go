package coinbase

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	jwtIssuer   = "cdp"
	jwtLifetime = 120 * time.Second
	wsAudience  = "public_websocket_api"
)

// credentials holds the CDP API key name and its parsed EC private key.
type credentials struct {
	keyName string
	key     *ecdsa.PrivateKey
}

func newCredentials(keyName, pemSecret string) (*credentials, error) {
	block, _ := pem.Decode([]byte(pemSecret))
	if block == nil {
		return nil, fmt.Errorf("coinbase: API secret is not PEM")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		pkcs8, err8 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err8 != nil {
			return nil, fmt.Errorf("coinbase: parse EC private key: %w", err)
		}
		ec, ok := pkcs8.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("coinbase: API secret is not an EC key")
		}
		key = ec
	}
	return &credentials{keyName: keyName, key: key}, nil
}

// restJWT signs a per-request token. uri is "METHOD host/path" per the
// Advanced Trade auth scheme.
func (c *credentials) restJWT(method, host, path string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": c.keyName,
		"iss": jwtIssuer,
		"nbf": now.Unix(),
		"exp": now.Add(jwtLifetime).Unix(),
		"uri": fmt.Sprintf("%s %s%s", method, host, path),
	}
	return c.sign(claims)
}

// wsJWT signs the token carried in WS subscribe messages.
func (c *credentials) wsJWT() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": c.keyName,
		"iss": jwtIssuer,
		"nbf": now.Unix(),
		"exp": now.Add(jwtLifetime).Unix(),
		"aud": []string{wsAudience},
	}
	return c.sign(claims)
}

func (c *credentials) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = c.keyName
	token.Header["nonce"] = nonce()
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("coinbase: sign jwt: %w", err)
	}
	return signed, nil
}

func nonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano()%int64(math.MaxInt32))
	}
	return fmt.Sprintf("%x", b)
}
