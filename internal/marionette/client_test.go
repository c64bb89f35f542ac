package marionette_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyan/foxtrot/internal/marionette"
	"github.com/tomyan/foxtrot/internal/testutil"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

func startFake(t *testing.T) *testutil.FakeMarionette {
	t.Helper()
	fake, err := testutil.StartFakeMarionette()
	require.NoError(t, err)
	t.Cleanup(fake.Close)
	return fake
}

func dialFake(t *testing.T, fake *testutil.FakeMarionette) *marionette.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := marionette.Dial(ctx, fake.Host, fake.Port)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestFrame_RoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, marionette.WriteFrame(&buf, []interface{}{0, 1, "WebDriver:GetTitle", map[string]string{}}))
	assert.True(t, strings.HasPrefix(buf.String(), "29:"), "frame should start with its length, got %q", buf.String())

	data, err := marionette.ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.JSONEq(t, `[0,1,"WebDriver:GetTitle",{}]`, string(data))
}

func TestReadFrame_RejectsBadLength(t *testing.T) {
	t.Parallel()

	_, err := marionette.ReadFrame(bufio.NewReader(strings.NewReader("abc:{}")))
	assert.Error(t, err)

	_, err = marionette.ReadFrame(bufio.NewReader(strings.NewReader("10:{}")))
	assert.Error(t, err, "short body should fail")
}

func TestClient_Connect_FailsWithClosedPort(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = marionette.Connect(ctx, "127.0.0.1", port)
	require.Error(t, err)
	assert.True(t, errors.Is(err, webdriver.ErrUnreachable), "got %v", err)
}

func TestClient_Connect_FailsWithoutHandshake(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(time.Second)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = marionette.Connect(ctx, "127.0.0.1", ln.Addr().(*net.TCPAddr).Port)
	require.Error(t, err)
	assert.True(t, errors.Is(err, webdriver.ErrUnreachable), "silent server should look unreachable, got %v", err)
}

func TestClient_Dial_StartsSession(t *testing.T) {
	t.Parallel()

	fake := startFake(t)
	client := dialFake(t, fake)

	assert.Equal(t, "fake-session", client.SessionID())
	assert.Equal(t, testutil.FakeProcessID, client.ProcessID())
	assert.Equal(t, "firefox", client.Capabilities().BrowserName)
	assert.Equal(t, 3, client.Handshake().Protocol)
}

func TestClient_Call_ReturnsErrorOnClosed(t *testing.T) {
	t.Parallel()

	fake := startFake(t)
	client := dialFake(t, fake)
	client.Close()

	_, err := client.Call(context.Background(), "WebDriver:GetTitle", nil)
	assert.ErrorIs(t, err, webdriver.ErrConnectionClosed)
}

func TestClient_Call_PropagatesProtocolError(t *testing.T) {
	t.Parallel()

	fake := startFake(t)
	client := dialFake(t, fake)

	_, err := client.Call(context.Background(), "Bogus:Command", nil)
	var perr *webdriver.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "unknown command", perr.Code)
	assert.ErrorIs(t, err, webdriver.ErrProtocol)
}

func TestClient_Call_HonoursContext(t *testing.T) {
	t.Parallel()

	fake := startFake(t)
	fake.Handle("WebDriver:GetTitle", func(json.RawMessage) (interface{}, *webdriver.ProtocolError) {
		time.Sleep(500 * time.Millisecond)
		return map[string]string{"value": "late"}, nil
	})
	client := dialFake(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Title(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_FindElements(t *testing.T) {
	t.Parallel()

	fake := startFake(t)
	fake.Handle("WebDriver:FindElements", func(json.RawMessage) (interface{}, *webdriver.ProtocolError) {
		// Marionette sends arrays bare
		return []map[string]string{
			{webdriver.ElementKey: "e1"},
			{webdriver.ElementKey: "e2"},
		}, nil
	})
	client := dialFake(t, fake)

	els, err := client.FindElements(context.Background(), "div.item")
	require.NoError(t, err)
	assert.Equal(t, []webdriver.Element{{ID: "e1"}, {ID: "e2"}}, els)

	calls := fake.CallsTo("WebDriver:FindElements")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"using":"css selector","value":"div.item"}`, string(calls[0].Params))
}

func TestClient_ElementText_Stale(t *testing.T) {
	t.Parallel()

	fake := startFake(t)
	fake.Handle("WebDriver:GetElementText", func(json.RawMessage) (interface{}, *webdriver.ProtocolError) {
		return nil, &webdriver.ProtocolError{Code: webdriver.CodeStaleElement, Message: "gone"}
	})
	client := dialFake(t, fake)

	_, err := client.ElementText(context.Background(), webdriver.Element{ID: "e1"})
	assert.ErrorIs(t, err, webdriver.ErrStaleElement)
}

func TestClient_ScalarCommands(t *testing.T) {
	t.Parallel()

	fake := startFake(t)
	fake.HandleValue("WebDriver:GetTitle", "Example")
	fake.HandleValue("WebDriver:GetCurrentURL", "https://example.com/")
	fake.HandleValue("WebDriver:GetPageSource", "<html></html>")
	fake.HandleValue("WebDriver:GetElementText", "hello")
	fake.HandleValue("WebDriver:IsElementDisplayed", true)
	fake.HandleValue("WebDriver:GetAlertText", "are you sure?")
	client := dialFake(t, fake)
	ctx := context.Background()

	title, err := client.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Example", title)

	url, err := client.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", url)

	src, err := client.PageSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", src)

	text, err := client.ElementText(ctx, webdriver.Element{ID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	shown, err := client.IsElementDisplayed(ctx, webdriver.Element{ID: "e1"})
	require.NoError(t, err)
	assert.True(t, shown)

	alert, err := client.AlertText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "are you sure?", alert)
}

func TestClient_ExecuteScript(t *testing.T) {
	t.Parallel()

	fake := startFake(t)
	fake.HandleValue("WebDriver:ExecuteScript", map[string]int{"a": 1})
	client := dialFake(t, fake)

	raw, err := client.ExecuteScript(context.Background(), "return {a: 1};")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))

	calls := fake.CallsTo("WebDriver:ExecuteScript")
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"script":"return {a: 1};","args":[]}`, string(calls[0].Params))
}

func TestClient_SetPref_UsesChromeContext(t *testing.T) {
	t.Parallel()

	fake := startFake(t)
	fake.HandleValue("Marionette:SetContext", nil)
	fake.HandleValue("WebDriver:ExecuteScript", nil)
	client := dialFake(t, fake)

	require.NoError(t, client.SetPref(context.Background(), "dom.webdriver.enabled", false))

	var sequence []string
	for _, c := range fake.Calls() {
		switch c.Command {
		case "Marionette:SetContext":
			var p struct{ Value string }
			require.NoError(t, json.Unmarshal(c.Params, &p))
			sequence = append(sequence, "context:"+p.Value)
		case "WebDriver:ExecuteScript":
			var p struct{ Args []interface{} }
			require.NoError(t, json.Unmarshal(c.Params, &p))
			assert.Equal(t, []interface{}{"dom.webdriver.enabled", false}, p.Args)
			sequence = append(sequence, "script")
		}
	}
	assert.Equal(t, []string{"context:chrome", "script", "context:content"}, sequence)
}

func TestClient_PerformActions(t *testing.T) {
	t.Parallel()

	fake := startFake(t)
	fake.HandleValue("WebDriver:PerformActions", nil)
	fake.HandleValue("WebDriver:ReleaseActions", nil)
	client := dialFake(t, fake)
	ctx := context.Background()

	require.NoError(t, client.PerformActions(ctx, webdriver.KeyActions("hi")))
	require.NoError(t, client.ReleaseActions(ctx))

	calls := fake.CallsTo("WebDriver:PerformActions")
	require.Len(t, calls, 1)
	var p struct {
		Actions []webdriver.ActionSource `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(calls[0].Params, &p))
	require.Len(t, p.Actions, 1)
	assert.Equal(t, "key", p.Actions[0].Type)
	assert.Len(t, p.Actions[0].Actions, 4)
}

func TestClient_Cookies(t *testing.T) {
	t.Parallel()

	fake := startFake(t)
	fake.Handle("WebDriver:GetCookies", func(json.RawMessage) (interface{}, *webdriver.ProtocolError) {
		return []webdriver.Cookie{{Name: "sid", Value: "abc", Domain: "example.com"}}, nil
	})
	fake.HandleValue("WebDriver:DeleteAllCookies", nil)
	client := dialFake(t, fake)

	cookies, err := client.Cookies(context.Background())
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)

	require.NoError(t, client.DeleteAllCookies(context.Background()))
	assert.Len(t, fake.CallsTo("WebDriver:DeleteAllCookies"), 1)
}

func TestClient_Close_DeletesSession(t *testing.T) {
	t.Parallel()

	fake := startFake(t)
	client := dialFake(t, fake)
	require.NoError(t, client.Close())

	assert.Len(t, fake.CallsTo("WebDriver:DeleteSession"), 1)
}

func TestClient_Integration_Firefox(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ff, err := testutil.StartFirefox(19828)
	if err != nil {
		t.Skipf("Firefox unavailable: %v", err)
	}
	defer ff.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := marionette.Dial(ctx, "localhost", ff.Port)
	require.NoError(t, err)
	defer client.Close()

	assert.NotZero(t, client.ProcessID())

	require.NoError(t, client.Navigate(ctx, `data:text/html,<p class="x">one</p><p class="x">two</p>`))
	els, err := client.FindElements(ctx, "p.x")
	require.NoError(t, err)
	require.Len(t, els, 2)

	text, err := client.ElementText(ctx, els[1])
	require.NoError(t, err)
	assert.Equal(t, "two", text)
}
