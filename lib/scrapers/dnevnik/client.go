package dnevnik

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"time"

	"dnevniksync/lib/htmlutil"
	"dnevniksync/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/dnevnik")

var ErrLoginFailed = fmt.Errorf("Failed to login to your account.")
var ErrNotAuthenticated = fmt.Errorf("the portal served the login page instead of content")

// Identity holds the portal-side identifiers resolved from a
// successful authenticated probe. Every data endpoint is addressed by
// some subset of these.
type Identity struct {
	PersonID int64 `json:"person_id"`
	SchoolID int64 `json:"school_id"`
	GroupID  int64 `json:"group_id"`
}

// Session is an authenticated context against the portal. The cookie
// jar inside Client carries the actual session cookies, the portal
// gives no explicit expiry so CreatedAt plus an estimated lifetime is
// all callers have to go on.
type Session struct {
	Client    *Client
	Identity  Identity
	CreatedAt time.Time
}

type ClientOptions struct {
	// BaseUrl hosts the user feed and the marks API, e.g. https://dnevnik.ru
	BaseUrl string
	// LoginUrl accepts the credential form post, e.g. https://login.dnevnik.ru/login
	LoginUrl string
	// SchoolsUrl hosts schedule views, e.g. https://schools.dnevnik.ru
	SchoolsUrl string
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.BaseUrl == "" {
		o.BaseUrl = "https://dnevnik.ru"
	}
	if o.LoginUrl == "" {
		o.LoginUrl = "https://login.dnevnik.ru/login"
	}
	if o.SchoolsUrl == "" {
		o.SchoolsUrl = "https://schools.dnevnik.ru"
	}
	return o
}

type Client struct {
	BaseUrl    *url.URL
	SchoolsUrl *url.URL
	LoginUrl   string
	Http       *resty.Client
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	opts = opts.withDefaults()

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	schoolsUrl, err := url.Parse(opts.SchoolsUrl)
	if err != nil {
		return nil, err
	}
	loginUrl, err := url.Parse(opts.LoginUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(
		baseUrl.Hostname(),
		schoolsUrl.Hostname(),
		loginUrl.Hostname(),
	))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/dnevnik/http")

	c := &Client{
		BaseUrl:    baseUrl,
		SchoolsUrl: schoolsUrl,
		LoginUrl:   opts.LoginUrl,
		Http:       client,
	}
	return c, nil
}

// the auth service sets this cookie on every login, leaving it in the
// jar makes later requests bounce back to the login page
const staleAuthCookie = "dnevnik_sst"

func (c *Client) dropCookie(name string) {
	jar := c.Http.GetClient().Jar
	if jar == nil {
		return
	}
	for _, u := range []*url.URL{c.BaseUrl, c.SchoolsUrl} {
		jar.SetCookies(u, []*http.Cookie{{
			Name:   name,
			Value:  "",
			MaxAge: -1,
		}})
	}
}

// LoginUsernamePassword posts the credential form and verifies the
// session with an authenticated probe of the user feed. The resolved
// Identity is returned on success.
func (c *Client) LoginUsernamePassword(ctx context.Context, username, password string) (Identity, error) {
	ctx, span := tracer.Start(ctx, "client:LoginUsernamePassword")
	defer span.End()

	_, err := c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"login":    username,
			"password": password,
		}).
		Post(c.LoginUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make login request")
		return Identity{}, err
	}

	c.dropCookie(staleAuthCookie)

	id, err := c.Userfeed(ctx)
	if err == ErrNotAuthenticated {
		span.SetStatus(codes.Error, ErrLoginFailed.Error())
		return Identity{}, ErrLoginFailed
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to probe user feed after login")
		return Identity{}, err
	}

	return id, nil
}

var initialStateRegex = regexp.MustCompile(`window\.__USER__START__PAGE__INITIAL__STATE__ *= *\{(.*)\}`)

// Userfeed fetches the feed page and digs the person/school/group
// identifiers out of the inline state blob. Getting the login page
// back instead fails with ErrNotAuthenticated.
func (c *Client) Userfeed(ctx context.Context) (Identity, error) {
	ctx, span := tracer.Start(ctx, "client:Userfeed")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get("/userfeed")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch user feed")
		return Identity{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse user feed html")
		return Identity{}, err
	}

	if IsLoginPage(doc) {
		span.SetStatus(codes.Error, ErrNotAuthenticated.Error())
		return Identity{}, ErrNotAuthenticated
	}

	for _, script := range doc.Find("script").Nodes {
		text := htmlutil.GetText(script)
		groups := initialStateRegex.FindStringSubmatch(text)
		if len(groups) < 2 {
			continue
		}

		var state struct {
			Analytics struct {
				PersonID int64 `json:"personId"`
				SchoolID int64 `json:"schoolId"`
				GroupID  int64 `json:"groupId"`
			} `json:"analytics"`
		}
		err := json.Unmarshal([]byte("{"+groups[1]+"}"), &state)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to unmarshal user state")
			return Identity{}, err
		}
		return Identity{
			PersonID: state.Analytics.PersonID,
			SchoolID: state.Analytics.SchoolID,
			GroupID:  state.Analytics.GroupID,
		}, nil
	}

	err = fmt.Errorf("could not find user state on the feed page")
	span.SetStatus(codes.Error, err.Error())
	return Identity{}, err
}

// IsLoginPage reports whether the document is the portal's login form,
// which the portal serves in place of content once a session dies.
func IsLoginPage(doc *goquery.Document) bool {
	if len(doc.Find("form input[name=password]").Nodes) > 0 {
		return true
	}
	return len(doc.Find("form.login__form").Nodes) > 0
}

// LooksLikeLoginPage is IsLoginPage for a raw body.
func LooksLikeLoginPage(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return false
	}
	return IsLoginPage(doc)
}

func (c *Client) MarksURL(id Identity) string {
	return fmt.Sprintf(
		"%s/api/v2/marks/school/%d/person/%d",
		c.BaseUrl, id.SchoolID, id.PersonID,
	)
}

func (c *Client) ScheduleViewURL(id Identity, week time.Time) string {
	query := url.Values{}
	query.Add("school", fmt.Sprint(id.SchoolID))
	query.Add("group", fmt.Sprint(id.GroupID))
	query.Add("year", fmt.Sprint(week.Year()))
	query.Add("week", week.Format("2006-01-02"))
	return fmt.Sprintf("%s/v2/schedules/view?%s", c.SchoolsUrl, query.Encode())
}
