package oauth

import (
	"context"
	"strconv"

	"golang.org/x/oauth2"
)

// DefaultEndpoints returns the production URLs of every supported provider.
func DefaultEndpoints() map[string]Endpoints {
	return map[string]Endpoints{
		Google: {
			AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:    "https://oauth2.googleapis.com/token",
			UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		},
		GitHub: {
			AuthURL:     "https://github.com/login/oauth/authorize",
			TokenURL:    "https://github.com/login/oauth/access_token",
			UserInfoURL: "https://api.github.com/user",
			EmailsURL:   "https://api.github.com/user/emails",
		},
		Microsoft: {
			AuthURL:     "https://login.microsoftonline.com/{tenant}/oauth2/v2.0/authorize",
			TokenURL:    "https://login.microsoftonline.com/{tenant}/oauth2/v2.0/token",
			UserInfoURL: "https://graph.microsoft.com/oidc/userinfo",
		},
		Facebook: {
			AuthURL:     "https://www.facebook.com/v18.0/dialog/oauth",
			TokenURL:    "https://graph.facebook.com/v18.0/oauth/access_token",
			UserInfoURL: "https://graph.facebook.com/me?fields=id,name,email",
		},
		Apple: {
			AuthURL:  "https://appleid.apple.com/auth/authorize",
			TokenURL: "https://appleid.apple.com/auth/token",
			JWKSURL:  "https://appleid.apple.com/auth/keys",
			Issuer:   "https://appleid.apple.com",
		},
	}
}

func newGoogle(c *client, ep Endpoints) *provider {
	return &provider{
		name:      Google,
		scopes:    []string{"openid", "email", "profile"},
		endpoints: ep,
		client:    c,
		profile: func(ctx context.Context, p *provider, _ Credentials, ep Endpoints, tok *oauth2.Token) (*UserInfo, error) {
			var body struct {
				Sub           string   `json:"sub"`
				Email         string   `json:"email"`
				EmailVerified flexBool `json:"email_verified"`
				Name          string   `json:"name"`
			}
			if err := p.getJSON(ctx, ep.UserInfoURL, tok, &body); err != nil {
				return nil, err
			}
			return &UserInfo{
				ProviderUserID: body.Sub,
				Email:          body.Email,
				EmailVerified:  bool(body.EmailVerified),
				Name:           body.Name,
			}, nil
		},
	}
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// selectGitHubEmail prefers the primary address, then any verified one, then
// any at all.
func selectGitHubEmail(emails []githubEmail) (string, bool, bool) {
	for _, e := range emails {
		if e.Primary && e.Email != "" {
			return e.Email, e.Verified, true
		}
	}
	for _, e := range emails {
		if e.Verified && e.Email != "" {
			return e.Email, true, true
		}
	}
	for _, e := range emails {
		if e.Email != "" {
			return e.Email, e.Verified, true
		}
	}
	return "", false, false
}

func newGitHub(c *client, ep Endpoints) *provider {
	return &provider{
		name:      GitHub,
		scopes:    []string{"read:user", "user:email"},
		endpoints: ep,
		client:    c,
		profile: func(ctx context.Context, p *provider, _ Credentials, ep Endpoints, tok *oauth2.Token) (*UserInfo, error) {
			var user struct {
				ID    int64  `json:"id"`
				Login string `json:"login"`
				Name  string `json:"name"`
				Email string `json:"email"`
			}
			if err := p.getJSON(ctx, ep.UserInfoURL, tok, &user); err != nil {
				return nil, err
			}
			info := &UserInfo{Name: user.Name}
			if user.ID != 0 {
				info.ProviderUserID = strconv.FormatInt(user.ID, 10)
			}
			if info.Name == "" {
				info.Name = user.Login
			}

			var emails []githubEmail
			if err := p.getJSON(ctx, ep.EmailsURL, tok, &emails); err == nil {
				if email, verified, ok := selectGitHubEmail(emails); ok {
					info.Email, info.EmailVerified = email, verified
					return info, nil
				}
			}
			// The public profile email carries no verification signal.
			info.Email = user.Email
			return info, nil
		},
	}
}

func newMicrosoft(c *client, ep Endpoints) *provider {
	return &provider{
		name:      Microsoft,
		scopes:    []string{"openid", "email", "profile", "User.Read"},
		endpoints: ep,
		client:    c,
		profile: func(ctx context.Context, p *provider, _ Credentials, ep Endpoints, tok *oauth2.Token) (*UserInfo, error) {
			var body struct {
				Sub   string `json:"sub"`
				Email string `json:"email"`
				Name  string `json:"name"`
			}
			if err := p.getJSON(ctx, ep.UserInfoURL, tok, &body); err != nil {
				return nil, err
			}
			// No email_verified claim is issued by this endpoint.
			return &UserInfo{ProviderUserID: body.Sub, Email: body.Email, Name: body.Name}, nil
		},
	}
}

func newFacebook(c *client, ep Endpoints) *provider {
	return &provider{
		name:      Facebook,
		scopes:    []string{"email", "public_profile"},
		endpoints: ep,
		client:    c,
		profile: func(ctx context.Context, p *provider, _ Credentials, ep Endpoints, tok *oauth2.Token) (*UserInfo, error) {
			var body struct {
				ID    string `json:"id"`
				Email string `json:"email"`
				Name  string `json:"name"`
			}
			if err := p.getJSON(ctx, ep.UserInfoURL, tok, &body); err != nil {
				return nil, err
			}
			return &UserInfo{ProviderUserID: body.ID, Email: body.Email, Name: body.Name}, nil
		},
	}
}

func newApple(c *client, ep Endpoints) *provider {
	return &provider{
		name:      Apple,
		scopes:    []string{"name", "email"},
		endpoints: ep,
		extra:     []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("response_mode", "form_post")},
		client:    c,
		profile: func(ctx context.Context, p *provider, creds Credentials, ep Endpoints, tok *oauth2.Token) (*UserInfo, error) {
			raw, _ := tok.Extra("id_token").(string)
			if raw == "" {
				return nil, ErrIDTokenInvalid
			}
			return p.client.verifyAppleIDToken(ctx, raw, ep, creds.ClientID)
		},
	}
}
