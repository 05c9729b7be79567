package sync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"dnevniksync/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

// RestController talks to a remote controller over its HTTP api. The
// surface mirrors Controller one to one:
//
//	GET  /accounts
//	GET  /accounts/{id}/credentials
//	GET  /accounts/{id}/records?kind=&from=&to=
//	POST /accounts/{id}/changes
type RestController struct {
	http *resty.Client
}

type RestControllerOptions struct {
	BaseUrl string `json:"base_url"`
	// Token is sent as a bearer token on every request.
	Token string `json:"token"`
}

func NewRestController(opts RestControllerOptions) *RestController {
	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetTimeout(time.Second * 15)
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}
	telemetry.InstrumentResty(client, "services/sync/controller")

	return &RestController{http: client}
}

func (c *RestController) GetCredentialRef(ctx context.Context, accountID string) (CredentialRef, error) {
	var ref CredentialRef
	res, err := c.http.R().
		SetContext(ctx).
		SetResult(&ref).
		Get(fmt.Sprintf("/accounts/%s/credentials", accountID))
	if err != nil {
		return CredentialRef{}, err
	}
	if res.StatusCode() != http.StatusOK {
		return CredentialRef{}, fmt.Errorf(
			"controller returned %d for credentials of %q", res.StatusCode(), accountID)
	}
	return ref, nil
}

func (c *RestController) GetSnapshot(ctx context.Context, accountID string, kind RecordKind, rng Range) ([]Record, error) {
	var records []Record
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"kind": string(kind),
			"from": rng.From.Format(time.DateOnly),
			"to":   rng.To.Format(time.DateOnly),
		}).
		SetResult(&records).
		Get(fmt.Sprintf("/accounts/%s/records", accountID))
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf(
			"controller returned %d for snapshot of %q", res.StatusCode(), accountID)
	}
	return records, nil
}

type changeRequest struct {
	Op     string `json:"op"`
	Record Record `json:"record"`
}

func (c *RestController) ApplyChange(ctx context.Context, accountID string, item ChangeItem) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(changeRequest{
			Op:     item.Op.String(),
			Record: item.Record,
		}).
		Post(fmt.Sprintf("/accounts/%s/changes", accountID))
	if err != nil {
		return &PublishError{Reason: PublishUnavailable, Err: err}
	}

	switch {
	case res.StatusCode() == http.StatusConflict:
		return &PublishError{
			Reason: PublishConflict,
			Err:    fmt.Errorf("controller rejected %s of %q", item.Op, item.Record.Key()),
		}
	case res.StatusCode() >= 400:
		return &PublishError{
			Reason: PublishUnavailable,
			Err:    fmt.Errorf("controller returned %d for %s of %q", res.StatusCode(), item.Op, item.Record.Key()),
		}
	}
	return nil
}

func (c *RestController) ListAccounts(ctx context.Context) ([]string, error) {
	var ids []string
	res, err := c.http.R().
		SetContext(ctx).
		SetResult(&ids).
		Get("/accounts")
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("controller returned %d listing accounts", res.StatusCode())
	}
	return ids, nil
}
