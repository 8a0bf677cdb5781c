package upstream

import (
	"pulse/internal/models"
	"pulse/internal/version"
)

const githubAPIVersion = "2022-11-28"

// NewOpenRouter builds the client for the OpenRouter chat API.
func NewOpenRouter(cfg models.OpenRouterConfig, opts ...Option) (*Client, error) {
	base := []Option{
		WithConfigured(cfg.APIKey != ""),
		WithHeader("HTTP-Referer", cfg.Referer),
		WithHeader("X-Title", cfg.Title),
		WithHeader("User-Agent", version.GetInfo().UserAgent()),
		WithRateLimit(cfg.RequestsPerSecond),
		WithRetries(cfg.MaxRetries),
	}
	if cfg.APIKey != "" {
		base = append(base, WithHeader("Authorization", "Bearer "+cfg.APIKey))
	}
	return New("openrouter", cfg.BaseURL, cfg.Timeout, append(base, opts...)...)
}

// NewGitHubREST builds the client for the GitHub REST API. It works without
// a token at the unauthenticated rate limit.
func NewGitHubREST(cfg models.GitHubConfig, opts ...Option) (*Client, error) {
	return New("github-rest", cfg.RESTBaseURL, cfg.Timeout, append(githubOptions(cfg), opts...)...)
}

// NewGitHubGraphQL builds the client for the GitHub GraphQL endpoint, which
// always requires a token.
func NewGitHubGraphQL(cfg models.GitHubConfig, opts ...Option) (*Client, error) {
	return New("github-graphql", cfg.GraphQLURL, cfg.Timeout, append(githubOptions(cfg), opts...)...)
}

func githubOptions(cfg models.GitHubConfig) []Option {
	opts := []Option{
		WithConfigured(cfg.Token != ""),
		WithHeader("Accept", "application/vnd.github+json"),
		WithHeader("X-GitHub-Api-Version", githubAPIVersion),
		WithHeader("User-Agent", version.GetInfo().UserAgent()),
		WithRateLimit(cfg.RequestsPerSecond),
		WithRetries(cfg.MaxRetries),
	}
	if cfg.Token != "" {
		opts = append(opts, WithHeader("Authorization", "Bearer "+cfg.Token))
	}
	return opts
}
