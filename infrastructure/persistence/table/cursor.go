package table

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	appErrors "github.com/monorist/monorise/pkg/errors"
)

// EncodeCursor turns a LastKey into an opaque token for clients. Every key attribute
// of the layout is a string, so the token is base64 over a flat JSON object.
func EncodeCursor(lastKey Item) (string, error) {
	if len(lastKey) == 0 {
		return "", nil
	}

	flat := make(map[string]string, len(lastKey))
	for name, v := range lastKey {
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("key attribute %q is not a string", name)
		}
		flat[name] = s.Value
	}

	raw, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// DecodeCursor reverses EncodeCursor. An empty token decodes to nil.
func DecodeCursor(token string) (Item, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, appErrors.NewValidationError("invalid lastKey").WithCause(err)
	}

	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, appErrors.NewValidationError("invalid lastKey").WithCause(err)
	}

	item := make(Item, len(flat))
	for name, v := range flat {
		item[name] = &types.AttributeValueMemberS{Value: v}
	}
	return item, nil
}
