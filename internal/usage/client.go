package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ccswap/ccswap/internal/config"
)

// checkTimeout bounds every usage and profile query. No retries at this
// layer: the swap loop re-polls on its own schedule.
const checkTimeout = 10 * time.Second

// Client queries the usage and profile endpoints.
type Client struct {
	usageURL   string
	profileURL string
	httpClient *http.Client
}

// NewClient returns a Client against the production endpoints.
func NewClient() *Client {
	return &Client{
		usageURL:   config.UsageURL,
		profileURL: config.ProfileURL,
		httpClient: &http.Client{Timeout: checkTimeout},
	}
}

// Check queries current utilization for one token. The returned snapshot
// carries an Error instead of numbers when the query failed.
func (c *Client) Check(ctx context.Context, token string) Snapshot {
	body, err := c.get(ctx, c.usageURL, token)
	if err != nil {
		return Snapshot{Error: err.Error()}
	}
	return parseBody(body)
}

// Profile is the account identity subset the profile endpoint exposes.
type Profile struct {
	Name  string
	Email string
}

type wireProfile struct {
	Account struct {
		FullName    string `json:"full_name"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	} `json:"account"`
}

// FetchProfile resolves the human identity behind a token, used to label
// accounts at login.
func (c *Client) FetchProfile(ctx context.Context, token string) (*Profile, error) {
	body, err := c.get(ctx, c.profileURL, token)
	if err != nil {
		return nil, err
	}
	var wp wireProfile
	if err := json.Unmarshal(body, &wp); err != nil {
		return nil, fmt.Errorf("parsing profile response: %w", err)
	}
	name := wp.Account.FullName
	if name == "" {
		name = wp.Account.DisplayName
	}
	return &Profile{Name: name, Email: wp.Account.Email}, nil
}

func (c *Client) get(ctx context.Context, url, token string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", config.OAuthBetaHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures and aborted requests read as timeouts.
		return nil, fmt.Errorf("timeout")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("timeout")
	}
	return body, nil
}

// Candidate is one account whose token should be checked.
type Candidate struct {
	Name       string
	ProfileDir string
	Token      string
	Priority   int // 0 = no explicit priority
}

// Result pairs a candidate with its usage snapshot.
type Result struct {
	Candidate
	Usage Snapshot
}

// CheckAll fans out one usage query per candidate and returns results in
// input order. Candidates without a token get a no_credentials snapshot
// without touching the network.
func (c *Client) CheckAll(ctx context.Context, candidates []Candidate) []Result {
	results := make([]Result, len(candidates))

	var wg sync.WaitGroup
	for i, cand := range candidates {
		results[i].Candidate = cand
		if cand.Token == "" {
			results[i].Usage = Snapshot{Error: "no_credentials"}
			continue
		}
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			results[i].Usage = c.Check(ctx, token)
		}(i, cand.Token)
	}
	wg.Wait()

	return results
}
