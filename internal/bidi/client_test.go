package bidi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyan/foxtrot/internal/bidi"
	"github.com/tomyan/foxtrot/internal/testutil"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

func startFake(t *testing.T) *testutil.FakeBiDi {
	t.Helper()
	fake := testutil.StartFakeBiDi()
	t.Cleanup(fake.Close)
	return fake
}

func dialFake(t *testing.T, fake *testutil.FakeBiDi) *bidi.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := bidi.Dial(ctx, fake.Host, fake.Port)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func params(t *testing.T, call testutil.BiDiCall) map[string]interface{} {
	t.Helper()
	var p map[string]interface{}
	require.NoError(t, json.Unmarshal(call.Params, &p))
	return p
}

func TestConnect_Unreachable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = bidi.Connect(ctx, "127.0.0.1", port)
	require.Error(t, err)
	assert.True(t, errors.Is(err, webdriver.ErrUnreachable), "got %v", err)
}

func TestDial_StartsSession(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	client := dialFake(t, fake)

	assert.Equal(t, "fake-bidi-session", client.SessionID())
	assert.Equal(t, testutil.FakeProcessID, client.ProcessID())
	assert.Equal(t, testutil.FakeContextID, client.BrowsingContext())

	subs := fake.CallsTo("session.subscribe")
	require.Len(t, subs, 1)
	assert.Contains(t, string(subs[0].Params), "browsingContext.userPromptOpened")
}

func TestClose_EndsSession(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	client := dialFake(t, fake)

	require.NoError(t, client.Close())
	assert.Len(t, fake.CallsTo("session.end"), 1)

	_, err := client.Call(context.Background(), "browsingContext.getTree", nil)
	assert.ErrorIs(t, err, webdriver.ErrConnectionClosed)
}

func TestNavigate(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	fake.HandleResult("browsingContext.navigate", map[string]interface{}{"navigation": "n1", "url": "https://example.com/"})
	client := dialFake(t, fake)

	require.NoError(t, client.Navigate(context.Background(), "https://example.com/"))

	calls := fake.CallsTo("browsingContext.navigate")
	require.Len(t, calls, 1)
	p := params(t, calls[0])
	assert.Equal(t, testutil.FakeContextID, p["context"])
	assert.Equal(t, "complete", p["wait"])
}

func TestFindElements(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	fake.HandleResult("browsingContext.locateNodes", map[string]interface{}{
		"nodes": []interface{}{
			map[string]interface{}{"type": "node", "sharedId": "n-1"},
			map[string]interface{}{"type": "node", "sharedId": "n-2"},
		},
	})
	client := dialFake(t, fake)

	els, err := client.FindElements(context.Background(), "li")
	require.NoError(t, err)
	assert.Equal(t, []webdriver.Element{{ID: "n-1"}, {ID: "n-2"}}, els)

	p := params(t, fake.CallsTo("browsingContext.locateNodes")[0])
	assert.Equal(t, map[string]interface{}{"type": "css", "value": "li"}, p["locator"])
}

func TestElementText_StaleNode(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	fake.Handle("script.callFunction", func(json.RawMessage) (interface{}, *webdriver.ProtocolError) {
		return nil, &webdriver.ProtocolError{Code: webdriver.CodeNoSuchNode, Message: "node gone"}
	})
	client := dialFake(t, fake)

	_, err := client.ElementText(context.Background(), webdriver.Element{ID: "n-1"})
	assert.ErrorIs(t, err, webdriver.ErrStaleElement)
}

func TestElementText_PassesSharedID(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	fake.HandleEvaluate("script.callFunction", map[string]interface{}{"type": "string", "value": "Next"})
	client := dialFake(t, fake)

	text, err := client.ElementText(context.Background(), webdriver.Element{ID: "n-7"})
	require.NoError(t, err)
	assert.Equal(t, "Next", text)

	p := params(t, fake.CallsTo("script.callFunction")[0])
	assert.Equal(t, []interface{}{map[string]interface{}{"sharedId": "n-7"}}, p["arguments"])
}

func TestExecuteScript_DecodesRemoteValue(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	fake.HandleEvaluate("script.callFunction", map[string]interface{}{
		"type": "object",
		"value": []interface{}{
			[]interface{}{"ok", map[string]interface{}{"type": "boolean", "value": true}},
			[]interface{}{"n", map[string]interface{}{"type": "number", "value": 3}},
			[]interface{}{"list", map[string]interface{}{"type": "array", "value": []interface{}{
				map[string]interface{}{"type": "string", "value": "a"},
				map[string]interface{}{"type": "undefined"},
			}}},
			[]interface{}{"el", map[string]interface{}{"type": "node", "sharedId": "n-1"}},
		},
	})
	client := dialFake(t, fake)

	raw, err := client.ExecuteScript(context.Background(), "return arguments[0];", "x", 2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"n":3,"list":["a",null],"el":{"element-6066-11e4-a52e-4f735466cecf":"n-1"}}`, string(raw))

	p := params(t, fake.CallsTo("script.callFunction")[0])
	assert.Contains(t, p["functionDeclaration"], "return arguments[0];")
	assert.Equal(t, []interface{}{
		map[string]interface{}{"type": "string", "value": "x"},
		map[string]interface{}{"type": "number", "value": float64(2)},
	}, p["arguments"])
}

func TestExecuteScript_Exception(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	fake.HandleResult("script.callFunction", map[string]interface{}{
		"type":             "exception",
		"exceptionDetails": map[string]interface{}{"text": "ReferenceError: nope is not defined"},
	})
	client := dialFake(t, fake)

	_, err := client.ExecuteScript(context.Background(), "return nope;")
	require.Error(t, err)
	assert.ErrorIs(t, err, webdriver.ErrJavaScript)
	assert.Contains(t, err.Error(), "nope is not defined")
}

func TestTitleAndPageSource(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	fake.Handle("script.evaluate", func(raw json.RawMessage) (interface{}, *webdriver.ProtocolError) {
		var p struct {
			Expression string `json:"expression"`
		}
		json.Unmarshal(raw, &p)
		value := "<html></html>"
		if p.Expression == "document.title" {
			value = "Example"
		}
		return map[string]interface{}{
			"type":   "success",
			"result": map[string]interface{}{"type": "string", "value": value},
		}, nil
	})
	client := dialFake(t, fake)
	ctx := context.Background()

	title, err := client.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Example", title)

	src, err := client.PageSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", src)
}

func TestCurrentURL(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	client := dialFake(t, fake)

	url, err := client.CurrentURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "about:blank", url)
}

func TestCookies(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	fake.HandleResult("storage.getCookies", map[string]interface{}{
		"cookies": []interface{}{map[string]interface{}{
			"name":     "sid",
			"value":    map[string]interface{}{"type": "string", "value": "abc"},
			"domain":   "example.com",
			"path":     "/",
			"size":     6,
			"httpOnly": true,
			"secure":   true,
			"sameSite": "lax",
			"expiry":   1700000000,
		}},
		"partitionKey": map[string]interface{}{},
	})
	fake.HandleResult("storage.deleteCookies", map[string]interface{}{"partitionKey": map[string]interface{}{}})
	client := dialFake(t, fake)
	ctx := context.Background()

	cookies, err := client.Cookies(ctx)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, webdriver.Cookie{
		Name: "sid", Value: "abc", Domain: "example.com", Path: "/",
		Expiry: 1700000000, HTTPOnly: true, Secure: true, SameSite: "Lax",
	}, cookies[0])

	require.NoError(t, client.DeleteAllCookies(ctx))
	p := params(t, fake.CallsTo("storage.deleteCookies")[0])
	assert.Equal(t, map[string]interface{}{"type": "context", "context": testutil.FakeContextID}, p["partition"])
}

func TestElementClick(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	fake.HandleEvaluate("script.callFunction", map[string]interface{}{"type": "undefined"})
	fake.HandleResult("input.performActions", map[string]interface{}{})
	fake.HandleResult("input.releaseActions", map[string]interface{}{})
	client := dialFake(t, fake)

	require.NoError(t, client.ElementClick(context.Background(), webdriver.Element{ID: "n-3"}))

	actions := fake.CallsTo("input.performActions")
	require.Len(t, actions, 1)
	assert.Contains(t, string(actions[0].Params), `"sharedId":"n-3"`)
	assert.Contains(t, string(actions[0].Params), `"pointerDown"`)
	assert.Len(t, fake.CallsTo("input.releaseActions"), 1)
}

func TestSetPref_Unsupported(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	client := dialFake(t, fake)

	err := client.SetPref(context.Background(), "dom.webdriver.enabled", false)
	assert.ErrorIs(t, err, webdriver.ErrUnsupported)
}

func TestUserPrompts(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	fake.HandleResult("browsingContext.handleUserPrompt", map[string]interface{}{})
	client := dialFake(t, fake)
	ctx := context.Background()

	_, err := client.AlertText(ctx)
	assert.ErrorIs(t, err, webdriver.ErrNoSuchAlert)

	require.NoError(t, fake.Emit("browsingContext.userPromptOpened", map[string]interface{}{
		"context": testutil.FakeContextID,
		"type":    "prompt",
		"message": "Your name?",
	}))

	require.Eventually(t, func() bool {
		text, err := client.AlertText(ctx)
		return err == nil && text == "Your name?"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.SendAlertText(ctx, "Ada"))
	require.NoError(t, client.AcceptAlert(ctx))

	p := params(t, fake.CallsTo("browsingContext.handleUserPrompt")[0])
	assert.Equal(t, true, p["accept"])
	assert.Equal(t, "Ada", p["userText"])

	_, err = client.AlertText(ctx)
	assert.ErrorIs(t, err, webdriver.ErrNoSuchAlert)
}

func TestUserPrompts_ClosedEventClears(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	client := dialFake(t, fake)
	ctx := context.Background()

	require.NoError(t, fake.Emit("browsingContext.userPromptOpened", map[string]interface{}{
		"context": testutil.FakeContextID, "type": "alert", "message": "hi",
	}))
	require.Eventually(t, func() bool {
		_, err := client.AlertText(ctx)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, client.SendAlertText(ctx, "x"), webdriver.ErrUnsupported)

	require.NoError(t, fake.Emit("browsingContext.userPromptClosed", map[string]interface{}{
		"context": testutil.FakeContextID, "accepted": true,
	}))
	require.Eventually(t, func() bool {
		_, err := client.AlertText(ctx)
		return errors.Is(err, webdriver.ErrNoSuchAlert)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCall_ContextCancelled(t *testing.T) {
	t.Parallel()
	fake := startFake(t)
	block := make(chan struct{})
	fake.Handle("browsingContext.navigate", func(json.RawMessage) (interface{}, *webdriver.ProtocolError) {
		<-block
		return map[string]interface{}{}, nil
	})
	client := dialFake(t, fake)
	// unblock the fake before the client closes so session.end gets an answer
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.Navigate(ctx, "https://slow.example/")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
