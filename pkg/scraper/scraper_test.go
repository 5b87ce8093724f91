package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchArticle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`
			<html>
				<head><title>Test Page</title><script>tracking();</script></head>
				<body>
					<nav>Site navigation</nav>
					<article>
						<h1>Big Story</h1>
						<p>This is the   full article body.</p>
					</article>
					<footer>Cookie Policy</footer>
				</body>
			</html>
		`))
	}))
	defer server.Close()

	s := NewWithConfig(ScraperConfig{RateLimit: 100})

	content, err := s.FetchArticle(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, content, "Big Story")
	assert.Contains(t, content, "This is the full article body.")
	assert.NotContains(t, content, "Site navigation")
	assert.NotContains(t, content, "tracking")
}

func TestFetchArticle_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s := NewWithConfig(ScraperConfig{RateLimit: 100})
	_, err := s.FetchArticle(context.Background(), server.URL)
	assert.Error(t, err)
}

func TestFetchArticle_Cancelled(t *testing.T) {
	s := NewWithConfig(ScraperConfig{RateLimit: 100})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.FetchArticle(ctx, "http://example.com")
	assert.Error(t, err)
}
