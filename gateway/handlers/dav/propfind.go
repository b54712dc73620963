package dav

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

// RFC 4918 multistatus serialization. Only the live properties clients
// actually consult are produced; dead properties are not persisted.

type multistatus struct {
	XMLName   xml.Name   `xml:"D:multistatus"`
	XmlnsD    string     `xml:"xmlns:D,attr"`
	Responses []response `xml:"D:response"`
}

type response struct {
	Href     string   `xml:"D:href"`
	Propstat propstat `xml:"D:propstat"`
}

type propstat struct {
	Prop   prop   `xml:"D:prop"`
	Status string `xml:"D:status"`
}

type prop struct {
	DisplayName   string         `xml:"D:displayname,omitempty"`
	ContentLength string         `xml:"D:getcontentlength,omitempty"`
	ContentType   string         `xml:"D:getcontenttype,omitempty"`
	LastModified  string         `xml:"D:getlastmodified,omitempty"`
	ETag          string         `xml:"D:getetag,omitempty"`
	ResourceType  *resourceType  `xml:"D:resourcetype"`
	SupportedLock *supportedLock `xml:"D:supportedlock,omitempty"`
}

type resourceType struct {
	Collection *struct{} `xml:"D:collection,omitempty"`
}

type supportedLock struct {
	Entries []lockEntryXML `xml:"D:lockentry"`
}

type lockEntryXML struct {
	Scope lockScopeXML `xml:"D:lockscope"`
	Type  lockTypeXML  `xml:"D:locktype"`
}

type lockScopeXML struct {
	Exclusive *struct{} `xml:"D:exclusive,omitempty"`
	Shared    *struct{} `xml:"D:shared,omitempty"`
}

type lockTypeXML struct {
	Write struct{} `xml:"D:write"`
}

func davHref(fsPath string, isDir bool) string {
	segs := strings.Split(fsPath, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	href := davPrefix + strings.Join(segs, "/")
	if isDir && !strings.HasSuffix(href, "/") {
		href += "/"
	}
	return href
}

func entryResponse(fsPath string, e storagedriver.FileEntry) response {
	p := prop{
		DisplayName:  e.Name,
		ResourceType: &resourceType{},
		SupportedLock: &supportedLock{Entries: []lockEntryXML{
			{Scope: lockScopeXML{Exclusive: &struct{}{}}},
			{Scope: lockScopeXML{Shared: &struct{}{}}},
		}},
	}
	if e.IsDirectory {
		p.ResourceType.Collection = &struct{}{}
	} else {
		p.ContentLength = strconv.FormatInt(e.Size, 10)
		p.ContentType = e.MimeType
		p.ETag = e.ETag
	}
	if !e.Modified.IsZero() {
		p.LastModified = e.Modified.UTC().Format(http.TimeFormat)
	}
	if p.DisplayName == "" {
		p.DisplayName = path.Base(fsPath)
	}
	return response{
		Href:     davHref(fsPath, e.IsDirectory),
		Propstat: propstat{Prop: p, Status: "HTTP/1.1 200 OK"},
	}
}

func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request, fsPath string) {
	ctx := r.Context()

	depth := r.Header.Get("Depth")
	if depth == "" || strings.EqualFold(depth, "infinity") {
		// unbounded traversal over remote providers is never served
		depth = "1"
	}

	entry, err := h.FS.Stat(ctx, fsPath)
	if err != nil {
		if notFoundStatus(err) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.serveError(w, r, err)
		return
	}

	ms := multistatus{
		XmlnsD:    "DAV:",
		Responses: []response{entryResponse(fsPath, entry)},
	}
	if depth == "1" && entry.IsDirectory {
		children, err := h.FS.List(ctx, fsPath, storagedriver.ListOptions{})
		if err != nil {
			h.serveError(w, r, err)
			return
		}
		for _, child := range children {
			ms.Responses = append(ms.Responses, entryResponse(child.FsPath, child))
		}
	}

	writeMultistatus(w, ms)
}

func writeMultistatus(w http.ResponseWriter, ms multistatus) {
	w.Header().Set("Content-Type", `application/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(ms)
}

// handleProppatch acknowledges the request shape but forbids every property
// mutation: dead properties are not persisted and live ones are read-only.
func (h *Handler) handleProppatch(w http.ResponseWriter, r *http.Request, fsPath string) {
	if _, err := h.FS.Stat(r.Context(), fsPath); err != nil {
		if notFoundStatus(err) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.serveError(w, r, err)
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)

	ms := multistatus{
		XmlnsD: "DAV:",
		Responses: []response{{
			Href:     davHref(fsPath, false),
			Propstat: propstat{Status: "HTTP/1.1 403 Forbidden"},
		}},
	}
	writeMultistatus(w, ms)
}

type lockInfo struct {
	XMLName xml.Name `xml:"lockinfo"`
	Scope   struct {
		Exclusive *struct{} `xml:"exclusive"`
		Shared    *struct{} `xml:"shared"`
	} `xml:"lockscope"`
	Owner struct {
		Href string `xml:"href"`
		Text string `xml:",chardata"`
	} `xml:"owner"`
}

type lockDiscovery struct {
	XMLName    xml.Name `xml:"D:prop"`
	XmlnsD     string   `xml:"xmlns:D,attr"`
	ActiveLock struct {
		Scope   lockScopeXML `xml:"D:lockdiscovery>D:activelock>D:lockscope"`
		Type    lockTypeXML  `xml:"D:lockdiscovery>D:activelock>D:locktype"`
		Depth   string       `xml:"D:lockdiscovery>D:activelock>D:depth"`
		Owner   string       `xml:"D:lockdiscovery>D:activelock>D:owner,omitempty"`
		Timeout string       `xml:"D:lockdiscovery>D:activelock>D:timeout"`
		Token   string       `xml:"D:lockdiscovery>D:activelock>D:locktoken>D:href"`
	}
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request, fsPath string) {
	timeout := parseTimeout(r.Header.Get("Timeout"))
	ifHeader := r.Header.Get("If")

	// empty-body LOCK with an If header is a refresh per RFC 4918
	if r.ContentLength == 0 && ifHeader != "" {
		token := extractToken(ifHeader)
		l := h.locks.refresh(token, timeout)
		if l == nil {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		h.writeLockResponse(w, l, http.StatusOK)
		return
	}

	var info lockInfo
	scope := "exclusive"
	owner := ""
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if err := xml.Unmarshal(body, &info); err == nil {
			if info.Scope.Shared != nil {
				scope = "shared"
			}
			owner = info.Owner.Href
			if owner == "" {
				owner = strings.TrimSpace(info.Owner.Text)
			}
		}
	}

	depth := r.Header.Get("Depth")
	if depth == "" {
		depth = "infinity"
	}

	l, ok := h.locks.create(fsPath, owner, scope, depth, timeout, ifHeader)
	if !ok {
		w.WriteHeader(http.StatusLocked)
		return
	}
	w.Header().Set("Lock-Token", "<"+l.Token+">")
	h.writeLockResponse(w, l, http.StatusOK)
}

func (h *Handler) writeLockResponse(w http.ResponseWriter, l *lockEntry, status int) {
	var d lockDiscovery
	d.XmlnsD = "DAV:"
	if l.Scope == "shared" {
		d.ActiveLock.Scope.Shared = &struct{}{}
	} else {
		d.ActiveLock.Scope.Exclusive = &struct{}{}
	}
	d.ActiveLock.Depth = l.Depth
	d.ActiveLock.Owner = l.Owner
	d.ActiveLock.Timeout = "Second-" + strconv.FormatInt(int64(time.Until(l.Expires)/time.Second), 10)
	d.ActiveLock.Token = l.Token

	w.Header().Set("Content-Type", `application/xml; charset="utf-8"`)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(d)
}

// extractToken pulls the first opaque lock token out of an If header.
func extractToken(ifHeader string) string {
	start := strings.Index(ifHeader, "<opaquelocktoken:")
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(ifHeader[start:], '>')
	if end < 0 {
		return ""
	}
	return ifHeader[start+1 : start+end]
}
