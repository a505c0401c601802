// internal/browser/htmlpage/page_test.go
package htmlpage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

const checkoutHTML = `<!DOCTYPE html>
<html><head><title>Checkout</title><script>var x = "Continue to payment";</script></head>
<body>
  <form id="shipping">
    <label for="email">Email address</label>
    <input type="email" name="email" id="email">
    <input type="hidden" name="csrf" value="tok">
    <textarea name="notes">old</textarea>
    <select name="country"><option value="us">United States</option><option value="ca" selected>Canada</option></select>
    <input type="checkbox" name="gift">
    <input type="submit" value="Place order">
  </form>
  <div class="summary"><span>Order <b>total</b></span></div>
  <ul><li class="item">Shoes</li><li class="item" style="display: none">Socks</li><li class="item">Hat</li></ul>
  <div hidden><button>Ghost</button></div>
  <button disabled>Apply coupon</button>
  <button class="primary">Continue to payment</button>
</body></html>`

func newPage(t *testing.T) *Page {
	t.Helper()
	p, err := FromString(zaptest.NewLogger(t), checkoutHTML, "https://shop.example/checkout")
	require.NoError(t, err)
	return p
}

func TestCountAndVisibility(t *testing.T) {
	p := newPage(t)
	ctx := context.Background()

	tests := []struct {
		selector string
		count    int
	}{
		{`input[type="email"][name*="EMAIL" i]`, 1},
		{`li.item`, 3},
		{`button:has-text("continue to payment")`, 1},
		{`text=Continue to payment`, 1},
		{`text="Continue to payment"`, 1},
		{`text="continue to payment"`, 0},
		{`*:has-text("Order total")`, 1},
		{`span:text-matches("^order total$", "i")`, 1},
		{`:has-text("Place order")`, 1},
		{`xpath=//li[@class="item"]`, 3},
		{`//select[@name="country"]/option`, 2},
		{`button:has-text("Nowhere")`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			n, err := p.Count(ctx, tt.selector)
			require.NoError(t, err)
			assert.Equal(t, tt.count, n)
		})
	}

	visible, err := p.IsVisible(ctx, "li.item", 1)
	require.NoError(t, err)
	assert.False(t, visible, "inline display:none hides the element")

	visible, err = p.IsVisible(ctx, "li.item", 2)
	require.NoError(t, err)
	assert.True(t, visible)

	visible, err = p.IsVisible(ctx, `button:has-text("Ghost")`, 0)
	require.NoError(t, err)
	assert.False(t, visible, "hidden ancestor hides the element")

	visible, err = p.IsVisible(ctx, `input[name="csrf"]`, 0)
	require.NoError(t, err)
	assert.False(t, visible)

	_, err = p.IsVisible(ctx, "li.item", 7)
	assert.Error(t, err)

	_, err = p.Count(ctx, "div[")
	assert.Error(t, err)
}

func TestInnermostTextMatch(t *testing.T) {
	p := newPage(t)
	text, err := p.Text(context.Background(), `text=Order total`, 0)
	require.NoError(t, err)
	assert.Equal(t, "Order total", text)

	tag, err := p.Attribute(context.Background(), `*:has-text("Order total")`, 0, "class")
	require.NoError(t, err)
	assert.Empty(t, tag, "the innermost match is the span, not the summary div")
}

func TestFillTypeClear(t *testing.T) {
	p := newPage(t)
	ctx := context.Background()

	require.NoError(t, p.Fill(ctx, `input[name="email"]`, 0, "a@b.com"))
	v, err := p.Value(ctx, `input[name="email"]`, 0)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", v)

	require.NoError(t, p.Clear(ctx, `textarea[name="notes"]`, 0))
	require.NoError(t, p.TypeText(ctx, `textarea[name="notes"]`, 0, "lea"))
	require.NoError(t, p.TypeText(ctx, `textarea[name="notes"]`, 0, "ve at door"))
	v, err = p.Value(ctx, `textarea[name="notes"]`, 0)
	require.NoError(t, err)
	assert.Equal(t, "leave at door", v)

	v, err = p.Value(ctx, `select[name="country"]`, 0)
	require.NoError(t, err)
	assert.Equal(t, "ca", v)
	require.NoError(t, p.Fill(ctx, `select[name="country"]`, 0, "United States"))
	v, err = p.Value(ctx, `select[name="country"]`, 0)
	require.NoError(t, err)
	assert.Equal(t, "us", v)

	err = p.Fill(ctx, "button.primary", 0, "x")
	assert.ErrorIs(t, err, ErrNotEditable)

	snapshot, err := p.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, snapshot, `value="a@b.com"`)
}

func TestClickActionability(t *testing.T) {
	p := newPage(t)
	ctx := context.Background()

	err := p.Click(ctx, `button:has-text("Apply coupon")`, 0)
	assert.ErrorIs(t, err, ErrDisabled)

	err = p.Click(ctx, `button:has-text("Ghost")`, 0)
	assert.ErrorIs(t, err, ErrNotVisible)

	require.NoError(t, p.ForceClick(ctx, `button:has-text("Ghost")`, 0))
	require.NoError(t, p.DispatchClick(ctx, `button:has-text("Apply coupon")`, 0))
	require.NoError(t, p.Click(ctx, `input[type="submit"]`, 0))
	require.NoError(t, p.Click(ctx, `input[name="gift"]`, 0))

	checked, err := p.Attribute(ctx, `input[name="gift"]`, 0, "checked")
	require.NoError(t, err)
	assert.Equal(t, "checked", checked)

	clicks := p.Clicks()
	require.Len(t, clicks, 4)
	assert.Equal(t, ClickForced, clicks[0].Method)
	assert.Equal(t, ClickDispatch, clicks[1].Method)
	assert.Equal(t, "Place order", clicks[2].Text)
}

func TestWaitVisibleTimesOut(t *testing.T) {
	p := newPage(t)
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err := p.WaitVisible(ctx, "li.item", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, p.WaitVisible(context.Background(), "li.item", 0))
}

func TestScreenshotUnsupported(t *testing.T) {
	p := newPage(t)
	_, err := p.Screenshot(context.Background())
	assert.ErrorIs(t, err, schemas.ErrUnsupported)
}

func TestNavigate(t *testing.T) {
	t.Run("local file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cart.html")
		require.NoError(t, os.WriteFile(path, []byte(`<button>Checkout</button>`), 0o600))

		p, err := Open(zaptest.NewLogger(t), path)
		require.NoError(t, err)
		u, err := p.URL(context.Background())
		require.NoError(t, err)
		assert.Contains(t, u, "file://")
		n, err := p.Count(context.Background(), `button:has-text("Checkout")`)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("http with relative follow-up", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<h1>` + r.URL.Path + `</h1>`))
		}))
		defer srv.Close()

		p := New(zaptest.NewLogger(t), WithHTTPClient(srv.Client()))
		require.NoError(t, p.Navigate(context.Background(), srv.URL+"/cart"))
		require.NoError(t, p.Navigate(context.Background(), "/checkout"))

		text, err := p.Text(context.Background(), "h1", 0)
		require.NoError(t, err)
		assert.Equal(t, "/checkout", text)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, New(nil).Navigate(ctx, "https://shop.example"), context.Canceled)
	})
}
