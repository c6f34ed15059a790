package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warmbot/pkg/boterrors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("SESSDATA=x; bili_jct=csrf123", WithBaseURL(srv.URL))
}

func TestCookieFields(t *testing.T) {
	cookie := "SESSDATA=s; bili_jct=abc; DedeUserID=900; buvid3=z"
	assert.Equal(t, "abc", extractCSRF(cookie))
	assert.Equal(t, "900", UserIDFromCookie(cookie))
	assert.Equal(t, "", extractCSRF("SESSDATA=s"))
	assert.Equal(t, "", UserIDFromCookie("SESSDATA=s"))
}

func TestMarker(t *testing.T) {
	marked := MarkContent("抱抱你")
	assert.True(t, HasMarker(marked))
	assert.False(t, HasMarker("抱抱你"))
	assert.Equal(t, "抱抱你", StripMarker(marked))
	// Idempotent.
	assert.Equal(t, marked, MarkContent(marked))
}

func TestSearchVideos(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/x/web-interface/search/type", r.URL.Path)
		assert.Equal(t, "video", r.URL.Query().Get("search_type"))
		assert.Equal(t, "深夜 emo", r.URL.Query().Get("keyword"))
		_, _ = w.Write([]byte(`{"code":0,"message":"0","data":{"result":[
			{"bvid":"BV1ab","aid":111,"title":"<em class=\"keyword\">深夜</em>日记","author":"up1","mid":42,"pubdate":1700000000}
		]}}`))
	})

	videos, err := c.SearchVideos(context.Background(), "深夜 emo", 1)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "BV1ab", videos[0].BVID)
	assert.Equal(t, int64(111), videos[0].AID)
	assert.Equal(t, "深夜日记", videos[0].Title)
	assert.Equal(t, "up1", videos[0].Author)
}

func TestGetVideoDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/x/web-interface/view", r.URL.Path)
		assert.Equal(t, "BV1ab", r.URL.Query().Get("bvid"))
		_, _ = w.Write([]byte(`{"code":0,"message":"0","data":{
			"bvid":"BV1ab","aid":111,"cid":222,"title":"深夜日记","desc":"晚安",
			"duration":432,"owner":{"mid":42,"name":"up1"},"pubdate":1700000000,
			"subtitle":{"list":[{"lan_doc":"中文（自动生成）","subtitle_url":"//cdn/zh.json"}]}}}`))
	})

	d, err := c.GetVideoDetail(context.Background(), "BV1ab")
	require.NoError(t, err)
	assert.Equal(t, int64(111), d.AID)
	assert.Equal(t, int64(222), d.CID)
	assert.Equal(t, "深夜日记", d.Title)
	assert.Equal(t, int64(42), d.AuthorID)
	assert.Equal(t, 432*time.Second, d.Duration)
	require.Len(t, d.Subtitles, 1)
	assert.Equal(t, "中文（自动生成）", d.Subtitles[0].Language)
	assert.Equal(t, "//cdn/zh.json", d.Subtitles[0].URL)
}

func TestPostReplySendsCSRF(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/x/v2/reply/add", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "csrf123", r.PostForm.Get("csrf"))
		assert.Equal(t, "111", r.PostForm.Get("oid"))
		assert.Equal(t, "1001", r.PostForm.Get("root"))
		assert.Equal(t, "2002", r.PostForm.Get("parent"))
		assert.True(t, strings.Contains(r.PostForm.Get("message"), "回复"))
		_, _ = w.Write([]byte(`{"code":0,"message":"0","data":{"reply":{"rpid_str":"9009"}}}`))
	})

	rpid, err := c.PostReply(context.Background(), "111", "1001", "2002", "回复 @alice :在的")
	require.NoError(t, err)
	assert.Equal(t, "9009", rpid)
}

func TestGetRepliesParsesThread(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/x/v2/reply/reply", r.URL.Path)
		assert.Equal(t, "1001", r.URL.Query().Get("root"))
		_, _ = w.Write([]byte(`{"code":0,"message":"0","data":{"replies":[
			{"rpid_str":"2002","root_str":"1001","parent_str":"1001","mid":7,
			 "member":{"uname":"alice"},"content":{"message":"谢谢你"},"ctime":1700000100}
		]}}`))
	})

	comments, err := c.GetReplies(context.Background(), "111", "1001")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "2002", comments[0].ID)
	assert.Equal(t, "1001", comments[0].Parent)
	assert.Equal(t, "alice", comments[0].UserName)
	assert.False(t, comments[0].IsRoot())
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		body string
		kind boterrors.Kind
		is   func(error) bool
	}{
		{"throttled", `{"code":412,"message":"request was banned"}`, boterrors.KindThrottled, nil},
		{"auth", `{"code":-401,"message":"非法访问"}`, boterrors.KindFatal, nil},
		{"post blocked", `{"code":-403,"message":"访问权限不足"}`, boterrors.KindThrottled, nil},
		{"root deleted", `{"code":12022,"message":"评论不存在"}`, boterrors.KindUpstreamGone,
			func(err error) bool { return errors.Is(err, ErrRootDeleted) }},
		{"comments disabled", `{"code":12002,"message":"评论区已关闭"}`, boterrors.KindUpstreamGone,
			func(err error) bool { return errors.Is(err, ErrCommentsDisabled) }},
		{"duplicate", `{"code":12051,"message":"重复内容"}`, boterrors.KindFatal,
			func(err error) bool { return errors.Is(err, ErrDuplicateContent) }},
		{"other", `{"code":-500,"message":"服务器错误"}`, boterrors.KindTransient, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.GetRootComments(context.Background(), "111", 1)
			require.Error(t, err)
			assert.Equal(t, tc.kind, boterrors.KindOf(err))
			if tc.is != nil {
				assert.True(t, tc.is(err))
			}
		})
	}
}

func TestHTTP412IsThrottled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	})
	_, err := c.GetRootComments(context.Background(), "111", 1)
	require.Error(t, err)
	assert.Equal(t, boterrors.KindThrottled, boterrors.KindOf(err))
}
