package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bluesky-social/indigo/atproto/client"
	"github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/atproto/syntax"
)

// RecordGetter is the subset of the atproto API client used for record reads.
// Satisfied by [client.APIClient].
type RecordGetter interface {
	Get(ctx context.Context, endpoint syntax.NSID, params map[string]string) (*json.RawMessage, error)
}

// CommunityDirectory fetches community-owned records from whichever host
// serves the community's repo.
type CommunityDirectory interface {
	Profile(ctx context.Context, community syntax.DID) (*Profile, error)
	Confirmations(ctx context.Context, community syntax.DID) ([]Confirmation, error)
}

type recordEnvelope struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

type recordList struct {
	Records []recordEnvelope `json:"records"`
	Cursor  *string          `json:"cursor,omitempty"`
}

// NetworkDirectory resolves community DIDs to their PDS and reads records
// with unauthenticated requests. Community repos are public; no community
// credential is needed (or stored) to read them.
type NetworkDirectory struct {
	Dir        identity.Directory
	HTTPClient *http.Client
}

var _ CommunityDirectory = (*NetworkDirectory)(nil)

func (d *NetworkDirectory) communityClient(ctx context.Context, community syntax.DID) (*client.APIClient, error) {
	ident, err := d.Dir.LookupDID(ctx, community)
	if err != nil {
		return nil, fmt.Errorf("resolving community %s: %w", community, err)
	}
	pds := ident.PDSEndpoint()
	if pds == "" {
		return nil, fmt.Errorf("community %s has no PDS endpoint", community)
	}
	return &client.APIClient{HTTPClient: d.HTTPClient, Host: pds}, nil
}

func (d *NetworkDirectory) Profile(ctx context.Context, community syntax.DID) (*Profile, error) {
	c, err := d.communityClient(ctx, community)
	if err != nil {
		return nil, err
	}
	raw, err := c.Get(ctx, syntax.NSID("com.atproto.repo.getRecord"), map[string]string{
		"repo":       community.String(),
		"collection": ProfileCollection,
		"rkey":       ProfileRecordKey,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching community profile for %s: %w", community, err)
	}
	var envelope recordEnvelope
	if err := json.Unmarshal(*raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding community profile response for %s: %w", community, err)
	}
	return ParseProfile(envelope.Value)
}

func (d *NetworkDirectory) Confirmations(ctx context.Context, community syntax.DID) ([]Confirmation, error) {
	c, err := d.communityClient(ctx, community)
	if err != nil {
		return nil, err
	}
	var confirmations []Confirmation
	appendConfirmation := func(rec recordEnvelope) {
		cf, err := ParseConfirmation(rec.URI, rec.Value)
		if err != nil {
			// a malformed confirmation can't match any claim; skip it
			slog.Warn("skipping malformed confirmation record", "uri", rec.URI, "err", err)
			return
		}
		confirmations = append(confirmations, *cf)
	}
	if err := listRecords(ctx, c, community, ConfirmationCollection, appendConfirmation); err != nil {
		return nil, fmt.Errorf("listing confirmations for %s: %w", community, err)
	}
	return confirmations, nil
}

func listRecords(ctx context.Context, rg RecordGetter, repo syntax.DID, collection string, each func(recordEnvelope)) error {
	cursor := ""
	for {
		params := map[string]string{
			"repo":       repo.String(),
			"collection": collection,
			"limit":      "100",
		}
		if cursor != "" {
			params["cursor"] = cursor
		}
		raw, err := rg.Get(ctx, syntax.NSID("com.atproto.repo.listRecords"), params)
		if err != nil {
			return err
		}
		var resp recordList
		if err := json.Unmarshal(*raw, &resp); err != nil {
			return fmt.Errorf("decoding listRecords response: %w", err)
		}
		for _, rec := range resp.Records {
			each(rec)
		}
		if resp.Cursor == nil || *resp.Cursor == "" || len(resp.Records) == 0 {
			return nil
		}
		cursor = *resp.Cursor
	}
}

// Reconciler merges a user's claims with the confirmations published by each
// community into a unified status view.
type Reconciler struct {
	Communities CommunityDirectory
	Logger      *slog.Logger
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// ListMemberships fetches the actor's claims through their authenticated
// client, then resolves each one. The result preserves claim order.
func (r *Reconciler) ListMemberships(ctx context.Context, actor syntax.DID, rg RecordGetter) ([]View, error) {
	var claims []Claim
	appendClaim := func(rec recordEnvelope) {
		cl, err := ParseClaim(rec.URI, rec.Value)
		if err != nil {
			r.logger().Warn("skipping malformed membership claim", "uri", rec.URI, "err", err)
			claimsDropped.Inc()
			return
		}
		claims = append(claims, *cl)
	}
	if err := listRecords(ctx, rg, actor, ClaimCollection, appendClaim); err != nil {
		return nil, fmt.Errorf("listing membership claims: %w", err)
	}
	return r.Reconcile(ctx, claims), nil
}

// Reconcile resolves every claim concurrently and waits for all of them to
// settle. Community data is externally owned and may be transiently
// unavailable or deleted, so a claim whose community fetches fail is dropped
// from the result rather than failing the whole call.
func (r *Reconciler) Reconcile(ctx context.Context, claims []Claim) []View {
	resolved := make([]*View, len(claims))

	var wg sync.WaitGroup
	for i, cl := range claims {
		wg.Add(1)
		go func(i int, cl Claim) {
			defer wg.Done()
			view, err := r.resolveClaim(ctx, cl)
			if err != nil {
				r.logger().Warn("dropping membership claim", "uri", cl.URI, "community", cl.Community, "err", err)
				claimsDropped.Inc()
				return
			}
			resolved[i] = view
		}(i, cl)
	}
	wg.Wait()

	views := make([]View, 0, len(claims))
	for _, view := range resolved {
		if view != nil {
			claimsReconciled.WithLabelValues(string(view.Status)).Inc()
			views = append(views, *view)
		}
	}
	return views
}

func (r *Reconciler) resolveClaim(ctx context.Context, cl Claim) (*View, error) {
	var (
		profile       *Profile
		confirmations []Confirmation
		profileErr    error
		confErr       error
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		profile, profileErr = r.Communities.Profile(ctx, cl.Community)
	}()
	go func() {
		defer wg.Done()
		confirmations, confErr = r.Communities.Confirmations(ctx, cl.Community)
	}()
	wg.Wait()

	if profileErr != nil {
		return nil, profileErr
	}
	if confErr != nil {
		return nil, confErr
	}

	status := StatusPending
	for _, cf := range confirmations {
		if cf.Claim == cl.URI {
			status = StatusActive
			break
		}
	}

	return &View{
		URI:       cl.URI,
		Community: cl.Community,
		JoinedAt:  cl.JoinedAt,
		Status:    status,
		Profile:   profile,
	}, nil
}
