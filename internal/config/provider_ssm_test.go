package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSSMClient struct {
	params  map[string]string
	invalid []string
	err     error
	batches [][]string
}

func (c *stubSSMClient) GetParameters(_ context.Context, input *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.batches = append(c.batches, input.Names)

	out := &ssm.GetParametersOutput{}
	for _, name := range input.Names {
		if v, ok := c.params[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{
				Name:  aws.String(name),
				Value: aws.String(v),
			})
		}
	}
	out.InvalidParameters = append(out.InvalidParameters, c.invalid...)
	return out, nil
}

func TestSSMProvider_ImplementsSecretProvider(t *testing.T) {
	var _ SecretProvider = (*SSMProvider)(nil)
	var _ SecretProvider = NewSSMProvider("us-east-1")
}

func TestSSMProvider_EmptyKeys(t *testing.T) {
	provider := NewSSMProvider("us-east-1")

	result, err := provider.GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestSSMProvider_ResolvesValues(t *testing.T) {
	client := &stubSSMClient{params: map[string]string{
		"/dev/bizpulse/webhook-secret": "whsec_1",
		"/dev/bizpulse/database-url":   "postgres://localhost/bizpulse",
	}}
	provider := newSSMProviderWithClient("us-east-1", client)

	result, err := provider.GetParametersBatch(context.Background(),
		[]string{"/dev/bizpulse/webhook-secret", "/dev/bizpulse/database-url"})
	require.NoError(t, err)
	assert.Equal(t, "whsec_1", result["/dev/bizpulse/webhook-secret"])
	assert.Equal(t, "postgres://localhost/bizpulse", result["/dev/bizpulse/database-url"])
}

func TestSSMProvider_BatchesAtAPILimit(t *testing.T) {
	params := make(map[string]string)
	var keys []string
	for i := 0; i < 23; i++ {
		key := fmt.Sprintf("/dev/bizpulse/param-%d", i)
		params[key] = fmt.Sprintf("value-%d", i)
		keys = append(keys, key)
	}
	client := &stubSSMClient{params: params}
	provider := newSSMProviderWithClient("us-east-1", client)

	result, err := provider.GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, result, 23)

	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[0], 10)
	assert.Len(t, client.batches[1], 10)
	assert.Len(t, client.batches[2], 3)
}

func TestSSMProvider_InvalidParameterFails(t *testing.T) {
	client := &stubSSMClient{invalid: []string{"/dev/bizpulse/missing"}}
	provider := newSSMProviderWithClient("us-east-1", client)

	_, err := provider.GetParametersBatch(context.Background(), []string{"/dev/bizpulse/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/bizpulse/missing")
}

func TestSSMProvider_APIErrorSurfaces(t *testing.T) {
	client := &stubSSMClient{err: errors.New("throttled")}
	provider := newSSMProviderWithClient("us-east-1", client)

	_, err := provider.GetParametersBatch(context.Background(), []string{"/dev/bizpulse/webhook-secret"})
	require.Error(t, err)
}
