// Package dataplane reads and updates named shadows through the AWS IoT
// data-plane HTTPS API. It cannot receive delta notifications; pair it with
// an MQTT subscriber through shadow.Composite.
package dataplane

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/Iron-Ham/shadowbridge/internal/errors"
	"github.com/Iron-Ham/shadowbridge/internal/logging"
	"github.com/Iron-Ham/shadowbridge/internal/shadow"
)

// API is the subset of *iotdataplane.Client used here.
type API interface {
	GetThingShadow(ctx context.Context, in *iotdataplane.GetThingShadowInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.GetThingShadowOutput, error)
	UpdateThingShadow(ctx context.Context, in *iotdataplane.UpdateThingShadowInput, optFns ...func(*iotdataplane.Options)) (*iotdataplane.UpdateThingShadowOutput, error)
}

// Client is a shadow.DocumentClient over the data-plane API.
type Client struct {
	api     API
	timeout time.Duration
	logger  *logging.Logger
}

var _ shadow.DocumentClient = (*Client)(nil)

// New wraps an existing API client. timeout bounds calls whose context has
// no deadline; zero disables it.
func New(api API, timeout time.Duration, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Client{api: api, timeout: timeout, logger: logger.WithComponent("dataplane")}
}

// NewFromEnvironment loads AWS credentials from the default chain and targets
// the account-specific data endpoint (for example "abc123-ats.iot.eu-west-1.amazonaws.com").
// An empty endpoint leaves endpoint resolution to the SDK.
func NewFromEnvironment(ctx context.Context, region, endpoint string, timeout time.Duration, logger *logging.Logger) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.NewConnectionError("load AWS configuration", err)
	}

	api := iotdataplane.NewFromConfig(cfg, withEndpoint(endpoint))
	return New(api, timeout, logger), nil
}

// withEndpoint overrides the SDK's base endpoint. Bare hosts get https://.
func withEndpoint(endpoint string) func(*iotdataplane.Options) {
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	return func(o *iotdataplane.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}
}

// PublishReported sends doc through UpdateThingShadow.
func (c *Client) PublishReported(ctx context.Context, thing, shadowName string, doc []byte) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.api.UpdateThingShadow(ctx, &iotdataplane.UpdateThingShadowInput{
		ThingName:  aws.String(thing),
		ShadowName: shadowNamePtr(shadowName),
		Payload:    doc,
	})
	if err != nil {
		return classify("update", err, thing, shadowName)
	}
	c.logger.Debug("shadow updated", "thing", thing, "shadow", shadowName, "response_bytes", len(out.Payload))
	return nil
}

// GetShadow returns the document from GetThingShadow.
func (c *Client) GetShadow(ctx context.Context, thing, shadowName string) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.api.GetThingShadow(ctx, &iotdataplane.GetThingShadowInput{
		ThingName:  aws.String(thing),
		ShadowName: shadowNamePtr(shadowName),
	})
	if err != nil {
		return nil, classify("get", err, thing, shadowName)
	}
	return out.Payload, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func shadowNamePtr(name string) *string {
	if name == "" {
		return nil
	}
	return aws.String(name)
}

// classify maps service exceptions onto bridge error kinds.
func classify(op string, err error, thing, shadowName string) error {
	msg := fmt.Sprintf("%s shadow", op)

	var (
		unauthorized *types.UnauthorizedException
		invalid      *types.InvalidRequestException
		notFound     *types.ResourceNotFoundException
		tooLarge     *types.RequestEntityTooLargeException
		encoding     *types.UnsupportedDocumentEncodingException
		apiErr       smithy.APIError
		respErr      *smithyhttp.ResponseError
	)

	var be *errors.BridgeError
	switch {
	case errors.As(err, &unauthorized):
		be = errors.NewUnauthorizedError(msg, err)
	case errors.As(err, &invalid), errors.As(err, &notFound), errors.As(err, &tooLarge), errors.As(err, &encoding):
		be = errors.NewMalformedShadowError(fmt.Sprintf("%s: %v", msg, err))
	case errors.As(err, &respErr) && (respErr.HTTPStatusCode() == http.StatusForbidden || respErr.HTTPStatusCode() == http.StatusUnauthorized):
		be = errors.NewUnauthorizedError(msg, err)
	case errors.As(err, &apiErr) && (apiErr.ErrorCode() == "ForbiddenException" || apiErr.ErrorCode() == "AccessDeniedException"):
		be = errors.NewUnauthorizedError(msg, err)
	default:
		be = errors.NewConnectionError(msg, err)
	}
	return be.WithThing(thing).WithShadow(shadowName)
}
