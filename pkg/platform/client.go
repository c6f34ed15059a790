// Package platform implements the Bilibili web API client the bot talks
// through: video search, comment listing, and reply posting.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"warmbot/pkg/boterrors"
	"warmbot/pkg/logx"
)

const (
	defaultBaseURL = "https://api.bilibili.com"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// commentTypeVideo is the comment area type for videos.
	commentTypeVideo = "1"
)

// Client talks to the Bilibili web API using a logged-in browser cookie.
type Client struct {
	baseURL    string
	cookie     string
	csrf       string
	httpClient *http.Client
	logger     *logx.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL, for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client authenticated with the given cookie string. The
// CSRF token is extracted from the bili_jct cookie field.
func NewClient(cookie string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		cookie:     cookie,
		csrf:       extractCSRF(cookie),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logx.NewLogger("platform"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// extractCSRF pulls the bili_jct value out of a raw cookie string.
func extractCSRF(cookie string) string {
	return cookieField(cookie, "bili_jct")
}

// UserIDFromCookie returns the logged-in account's user id (DedeUserID), or
// empty if the cookie does not carry one.
func UserIDFromCookie(cookie string) string {
	return cookieField(cookie, "DedeUserID")
}

func cookieField(cookie, name string) string {
	for _, part := range strings.Split(cookie, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, name+"="); ok {
			return v
		}
	}
	return ""
}

// apiEnvelope is the standard response wrapper of the platform API.
type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return boterrors.Wrap(boterrors.KindFatal, err, "failed to build request")
	}
	return c.do(req, out)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	form.Set("csrf", c.csrf)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return boterrors.Wrap(boterrors.KindFatal, err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cookie", c.cookie)
	req.Header.Set("Referer", "https://www.bilibili.com")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return boterrors.Wrap(boterrors.KindTransient, err, "platform request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	// The request gate answers 412 at the HTTP layer, before the JSON envelope.
	if resp.StatusCode == http.StatusPreconditionFailed {
		return classifyAPIError(codeThrottled, "request gate triggered")
	}
	if resp.StatusCode >= 500 {
		return boterrors.Wrap(boterrors.KindTransient,
			fmt.Errorf("http status %d", resp.StatusCode), "platform server error")
	}
	if resp.StatusCode != http.StatusOK {
		return boterrors.Wrap(boterrors.KindFatal,
			fmt.Errorf("http status %d", resp.StatusCode), "platform rejected request")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return boterrors.Wrap(boterrors.KindTransient, err, "failed to read response body")
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return boterrors.Wrap(boterrors.KindTransient, err, "failed to decode response")
	}
	if env.Code != 0 {
		return classifyAPIError(env.Code, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return boterrors.Wrap(boterrors.KindTransient, err, "failed to decode response data")
		}
	}
	return nil
}

type searchResult struct {
	Result []struct {
		BVID        string `json:"bvid"`
		AID         int64  `json:"aid"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Author      string `json:"author"`
		MID         int64  `json:"mid"`
		PubDate     int64  `json:"pubdate"`
	} `json:"result"`
}

// SearchVideos searches videos for a keyword, newest first.
func (c *Client) SearchVideos(ctx context.Context, keyword string, page int) ([]Video, error) {
	q := url.Values{}
	q.Set("search_type", "video")
	q.Set("keyword", keyword)
	q.Set("order", "pubdate")
	q.Set("page", strconv.Itoa(page))

	var data searchResult
	if err := c.get(ctx, "/x/web-interface/search/type", q, &data); err != nil {
		return nil, err
	}

	videos := make([]Video, 0, len(data.Result))
	for _, r := range data.Result {
		videos = append(videos, Video{
			BVID:        r.BVID,
			AID:         r.AID,
			Title:       cleanSearchTitle(r.Title),
			Description: r.Description,
			Author:      r.Author,
			AuthorID:    r.MID,
			PublishedAt: time.Unix(r.PubDate, 0),
		})
	}
	return videos, nil
}

// Search titles come back with <em class="keyword"> highlight tags.
func cleanSearchTitle(s string) string {
	s = strings.ReplaceAll(s, `<em class="keyword">`, "")
	return strings.ReplaceAll(s, "</em>", "")
}

type videoDetail struct {
	BVID     string `json:"bvid"`
	AID      int64  `json:"aid"`
	CID      int64  `json:"cid"`
	Title    string `json:"title"`
	Desc     string `json:"desc"`
	Duration int64  `json:"duration"` // seconds
	Owner    struct {
		MID  int64  `json:"mid"`
		Name string `json:"name"`
	} `json:"owner"`
	PubDate  int64 `json:"pubdate"`
	Subtitle struct {
		List []struct {
			LanDoc      string `json:"lan_doc"`
			SubtitleURL string `json:"subtitle_url"`
		} `json:"list"`
	} `json:"subtitle"`
}

// GetVideoDetail fetches the full view record for one video by bvid.
func (c *Client) GetVideoDetail(ctx context.Context, bvid string) (*VideoDetail, error) {
	q := url.Values{}
	q.Set("bvid", bvid)

	var data videoDetail
	if err := c.get(ctx, "/x/web-interface/view", q, &data); err != nil {
		return nil, err
	}
	detail := &VideoDetail{
		Video: Video{
			BVID:        data.BVID,
			AID:         data.AID,
			Title:       data.Title,
			Description: data.Desc,
			Author:      data.Owner.Name,
			AuthorID:    data.Owner.MID,
			PublishedAt: time.Unix(data.PubDate, 0),
		},
		CID:      data.CID,
		Duration: time.Duration(data.Duration) * time.Second,
	}
	for _, s := range data.Subtitle.List {
		detail.Subtitles = append(detail.Subtitles, SubtitleTrack{
			Language: s.LanDoc,
			URL:      s.SubtitleURL,
		})
	}
	return detail, nil
}

type conclusionResult struct {
	ModelResult struct {
		Summary string `json:"summary"`
		Outline []struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		} `json:"outline"`
		Keywords []string `json:"keywords"`
	} `json:"model_result"`
}

// GetConclusion fetches the platform's AI summary for a video part. The
// platform only generates one for videos long enough to warrant it; the
// result may be empty.
func (c *Client) GetConclusion(ctx context.Context, bvid string, cid, upMID int64) (*Conclusion, error) {
	q := url.Values{}
	q.Set("bvid", bvid)
	q.Set("cid", strconv.FormatInt(cid, 10))
	q.Set("up_mid", strconv.FormatInt(upMID, 10))

	var data conclusionResult
	if err := c.get(ctx, "/x/web-interface/view/conclusion/get", q, &data); err != nil {
		return nil, err
	}
	con := &Conclusion{
		Summary:  data.ModelResult.Summary,
		Keywords: data.ModelResult.Keywords,
	}
	for _, o := range data.ModelResult.Outline {
		con.Outline = append(con.Outline, OutlinePoint{Title: o.Title, Content: o.Content})
	}
	return con, nil
}

// GetSubtitle downloads a subtitle track and joins its cues into plain text.
// Subtitle files live on a CDN outside the API envelope, sometimes behind a
// protocol-relative URL.
func (c *Client) GetSubtitle(ctx context.Context, rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "//") {
		rawURL = "https:" + rawURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", boterrors.Wrap(boterrors.KindFatal, err, "failed to build request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://www.bilibili.com")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", boterrors.Wrap(boterrors.KindTransient, err, "subtitle request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", boterrors.Wrap(boterrors.KindTransient,
			fmt.Errorf("http status %d", resp.StatusCode), "subtitle fetch rejected")
	}

	var data struct {
		Body []struct {
			Content string `json:"content"`
		} `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", boterrors.Wrap(boterrors.KindTransient, err, "failed to decode subtitle")
	}

	parts := make([]string, 0, len(data.Body))
	for _, cue := range data.Body {
		if s := strings.TrimSpace(cue.Content); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}

type wireReply struct {
	RpidStr   string `json:"rpid_str"`
	RootStr   string `json:"root_str"`
	ParentStr string `json:"parent_str"`
	Mid       int64  `json:"mid"`
	Member    struct {
		Uname string `json:"uname"`
	} `json:"member"`
	Content struct {
		Message string `json:"message"`
	} `json:"content"`
	Like  int   `json:"like"`
	Ctime int64 `json:"ctime"`
}

func (r *wireReply) toComment() Comment {
	return Comment{
		ID:        r.RpidStr,
		Root:      r.RootStr,
		Parent:    r.ParentStr,
		UserID:    strconv.FormatInt(r.Mid, 10),
		UserName:  r.Member.Uname,
		Content:   r.Content.Message,
		Likes:     r.Like,
		CreatedAt: time.Unix(r.Ctime, 0),
	}
}

type replyList struct {
	Replies []wireReply `json:"replies"`
}

// GetRootComments lists top-level comments on a video, newest first. oid is
// the video's aid in decimal.
func (c *Client) GetRootComments(ctx context.Context, oid string, page int) ([]Comment, error) {
	q := url.Values{}
	q.Set("type", commentTypeVideo)
	q.Set("oid", oid)
	q.Set("sort", "2")
	q.Set("pn", strconv.Itoa(page))

	var data replyList
	if err := c.get(ctx, "/x/v2/reply", q, &data); err != nil {
		return nil, err
	}

	comments := make([]Comment, 0, len(data.Replies))
	for i := range data.Replies {
		comments = append(comments, data.Replies[i].toComment())
	}
	return comments, nil
}

// GetReplies lists the reply thread under a root comment, oldest first.
func (c *Client) GetReplies(ctx context.Context, oid, rootID string) ([]Comment, error) {
	q := url.Values{}
	q.Set("type", commentTypeVideo)
	q.Set("oid", oid)
	q.Set("root", rootID)
	q.Set("ps", "49")

	var data replyList
	if err := c.get(ctx, "/x/v2/reply/reply", q, &data); err != nil {
		return nil, err
	}

	comments := make([]Comment, 0, len(data.Replies))
	for i := range data.Replies {
		comments = append(comments, data.Replies[i].toComment())
	}
	return comments, nil
}

type postReplyResult struct {
	Reply wireReply `json:"reply"`
}

// PostReply posts a comment under a video. rootID and parentID are "0" for a
// new top-level comment; for a threaded reply, rootID names the root comment
// and parentID the comment being answered. Returns the new comment's rpid.
func (c *Client) PostReply(ctx context.Context, oid, rootID, parentID, message string) (string, error) {
	form := url.Values{}
	form.Set("type", commentTypeVideo)
	form.Set("oid", oid)
	form.Set("root", rootID)
	form.Set("parent", parentID)
	form.Set("message", message)

	var data postReplyResult
	if err := c.postForm(ctx, "/x/v2/reply/add", form, &data); err != nil {
		return "", err
	}
	rpid := data.Reply.RpidStr
	c.logger.Info("posted reply %s on item %s (root %s)", rpid, oid, rootID)
	return rpid, nil
}
