package authhttp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/ggoodman/mcp-bearer-go/auth"
	sdkauth "github.com/modelcontextprotocol/go-sdk/auth"
)

const descriptorExtraKey = "mcp-bearer/access-descriptor"

// TokenVerifier adapts v to the go-sdk bearer middleware. When Middleware
// already verified the same token for this request its descriptor is reused
// instead of verifying twice. Failures unwrap to sdkauth.ErrInvalidToken and
// to the underlying *auth.Rejection.
func TokenVerifier(v auth.TokenVerifier) sdkauth.TokenVerifier {
	return func(ctx context.Context, token string, _ *http.Request) (*sdkauth.TokenInfo, error) {
		desc, ok := DescriptorFromContext(ctx)
		if !ok || subtle.ConstantTimeCompare([]byte(desc.Token()), []byte(token)) != 1 {
			var err error
			desc, err = v.Verify(ctx, token)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", sdkauth.ErrInvalidToken, err)
			}
		}
		return TokenInfo(desc), nil
	}
}

// TokenInfo converts desc into the go-sdk representation. The descriptor
// itself rides along in Extra; see DescriptorFromTokenInfo.
func TokenInfo(desc *auth.AccessDescriptor) *sdkauth.TokenInfo {
	return &sdkauth.TokenInfo{
		Scopes:     desc.Scopes(),
		Expiration: desc.ExpiresAt(),
		Extra: map[string]any{
			descriptorExtraKey: desc,
			"sub":              desc.Subject(),
			"client_id":        desc.ClientID(),
		},
	}
}

// DescriptorFromTokenInfo recovers the descriptor from a TokenInfo built by
// TokenInfo, e.g. from mcp.CallToolRequest.Extra.TokenInfo in a tool handler.
func DescriptorFromTokenInfo(ti *sdkauth.TokenInfo) (*auth.AccessDescriptor, bool) {
	if ti == nil || ti.Extra == nil {
		return nil, false
	}
	d, ok := ti.Extra[descriptorExtraKey].(*auth.AccessDescriptor)
	return d, ok && d != nil
}
