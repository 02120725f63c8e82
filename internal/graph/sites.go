package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// ErrInvalidSiteURL is returned when a site URL cannot be split into a
// hostname and server-relative path for Graph site addressing.
var ErrInvalidSiteURL = errors.New("graph: invalid site URL")

// siteResponse mirrors the Graph API site JSON response.
// Unexported — callers use Site via toSite() normalization.
type siteResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	WebURL      string `json:"webUrl"`
}

// toSite normalizes a Graph API site response into our Site type.
func (s *siteResponse) toSite() Site {
	return Site{
		ID:          s.ID,
		Name:        s.Name,
		DisplayName: s.DisplayName,
		WebURL:      s.WebURL,
	}
}

// userResponse mirrors the Graph API /me JSON response.
type userResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Mail        string `json:"mail"`
	// UPN is a fallback when mail is empty (common on accounts where the
	// mail field is not populated).
	UPN string `json:"userPrincipalName"`
}

// toUser normalizes a Graph API user response into our User type.
func (u *userResponse) toUser() User {
	email := u.Mail
	if email == "" {
		email = u.UPN
	}

	return User{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       email,
	}
}

// driveResponse mirrors the Graph API drive JSON response.
// Unexported — callers use Drive via toDrive() normalization.
type driveResponse struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	DriveType string      `json:"driveType"`
	WebURL    string      `json:"webUrl"`
	Owner     *ownerFacet `json:"owner"`
}

// ownerFacet represents the owner block in a Graph API drive response.
type ownerFacet struct {
	User struct {
		DisplayName string `json:"displayName"`
	} `json:"user"`
}

// drivesListResponse wraps the value array from GET /sites/{id}/drives.
type drivesListResponse struct {
	Value []driveResponse `json:"value"`
}

// toDrive normalizes a Graph API drive response into our Drive type.
// Nil-safe for the optional owner facet.
func (d *driveResponse) toDrive() Drive {
	drive := Drive{
		ID:        strings.ToLower(d.ID),
		Name:      d.Name,
		DriveType: d.DriveType,
		WebURL:    d.WebURL,
	}

	if d.Owner != nil {
		drive.OwnerName = d.Owner.User.DisplayName
	}

	return drive
}

// ParseSiteURL splits a browser-facing SharePoint site URL such as
// https://contoso.sharepoint.com/sites/documents into the hostname and
// server-relative path used for Graph site addressing.
func ParseSiteURL(siteURL string) (host, sitePath string, err error) {
	u, parseErr := url.Parse(siteURL)
	if parseErr != nil {
		return "", "", fmt.Errorf("%w: %q: %w", ErrInvalidSiteURL, siteURL, parseErr)
	}

	if u.Scheme != "https" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q: expected https://hostname/sites/name", ErrInvalidSiteURL, siteURL)
	}

	sitePath = strings.TrimSuffix(u.Path, "/")
	if sitePath == "" {
		// Root site of the tenant.
		return u.Host, "", nil
	}

	if !strings.HasPrefix(sitePath, "/") {
		sitePath = "/" + sitePath
	}

	return u.Host, sitePath, nil
}

// SiteByURL resolves a SharePoint site URL to its Graph site resource using
// the /sites/{hostname}:{server-relative-path} addressing form.
func (c *Client) SiteByURL(ctx context.Context, siteURL string) (*Site, error) {
	host, sitePath, err := ParseSiteURL(siteURL)
	if err != nil {
		return nil, err
	}

	apiPath := "/sites/" + host
	if sitePath != "" {
		apiPath += ":" + encodePathSegments(sitePath)
	}

	c.logger.Info("resolving site",
		slog.String("host", host),
		slog.String("site_path", sitePath),
	)

	resp, err := c.Do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sr siteResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("graph: decoding site response: %w", err)
	}

	site := sr.toSite()

	c.logger.Debug("resolved site",
		slog.String("site_id", site.ID),
		slog.String("display_name", site.DisplayName),
	)

	return &site, nil
}

// SiteDrives returns the document libraries of a site.
func (c *Client) SiteDrives(ctx context.Context, siteID string) ([]Drive, error) {
	c.logger.Info("listing document libraries",
		slog.String("site_id", siteID),
	)

	resp, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/sites/%s/drives", url.PathEscape(siteID)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dlr drivesListResponse
	if err := json.NewDecoder(resp.Body).Decode(&dlr); err != nil {
		return nil, fmt.Errorf("graph: decoding drives response: %w", err)
	}

	drives := make([]Drive, 0, len(dlr.Value))
	for i := range dlr.Value {
		drives = append(drives, dlr.Value[i].toDrive())
	}

	c.logger.Info("listed document libraries",
		slog.Int("count", len(drives)),
	)

	return drives, nil
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	c.logger.Info("fetching authenticated user profile")

	resp, err := c.Do(ctx, http.MethodGet, "/me", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ur userResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, fmt.Errorf("graph: decoding user response: %w", err)
	}

	user := ur.toUser()

	c.logger.Debug("fetched user profile",
		slog.String("id", user.ID),
		slog.String("display_name", user.DisplayName),
	)

	return &user, nil
}
