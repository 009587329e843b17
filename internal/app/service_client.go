package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"

	"cord/platform/internal/files"
	"cord/platform/internal/pins"
	"cord/platform/internal/pubsub"
	"cord/platform/internal/realtime"
	"cord/platform/internal/search"
	"cord/platform/internal/store"
	"cord/platform/internal/threadview"
	"cord/platform/internal/util"
)

const maxSearchLimit = 100

type SearchQuery struct {
	Text     string
	ThreadID string
	AuthorID string
	Limit    int
}

// SearchMessages runs a full-text query limited to the caller's groups.
func (s *Service) SearchMessages(ctx context.Context, caller Caller, q SearchQuery) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, unavailable("search_unavailable", "Search is not configured")
	}
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return search.Response{}, invalidField("q", "q is required")
	}
	groups, err := s.viewerGroups(ctx, caller)
	if err != nil {
		return search.Response{}, err
	}
	limit := q.Limit
	if limit <= 0 || limit > maxSearchLimit {
		limit = 20
	}
	return s.search.Search(ctx, search.Query{
		AppID:    caller.AppID,
		Text:     text,
		GroupIDs: groups,
		ThreadID: q.ThreadID,
		AuthorID: q.AuthorID,
		Limit:    limit,
	}), nil
}

type FileView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	UploadStatus string `json:"uploadStatus"`
	UploadURL    string `json:"uploadURL,omitempty"`
	URL          string `json:"url,omitempty"`
}

func fileView(file store.File) FileView {
	return FileView{ID: file.ID, Name: file.Name, MimeType: file.MimeType, Size: file.Size, UploadStatus: file.UploadStatus}
}

type FileInput struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

func (s *Service) CreateFile(ctx context.Context, caller Caller, input FileInput) (FileView, error) {
	if s.files == nil {
		return FileView{}, unavailable("files_unavailable", "File storage is not configured")
	}
	file, uploadURL, err := s.files.Create(ctx, caller.AppID, caller.UserID, input.Name, input.MimeType, input.Size)
	if err != nil {
		return FileView{}, fileError(err)
	}
	view := fileView(file)
	view.UploadURL = uploadURL
	return view, nil
}

func (s *Service) CompleteFile(ctx context.Context, caller Caller, fileID string) (FileView, error) {
	if s.files == nil {
		return FileView{}, unavailable("files_unavailable", "File storage is not configured")
	}
	if _, err := s.ownFile(ctx, caller, fileID); err != nil {
		return FileView{}, err
	}
	file, err := s.files.Complete(ctx, caller.AppID, fileID)
	if err != nil {
		return FileView{}, fileError(err)
	}
	return fileView(file), nil
}

// GetFile returns the file with a short-lived download URL once uploaded.
func (s *Service) GetFile(ctx context.Context, caller Caller, fileID string) (FileView, error) {
	if s.files == nil {
		return FileView{}, unavailable("files_unavailable", "File storage is not configured")
	}
	if !util.IsUUID(fileID) {
		return FileView{}, notFound("file_not_found", "File "+fileID+" not found")
	}
	file, err := s.store.GetFile(ctx, caller.AppID, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return FileView{}, notFound("file_not_found", "File "+fileID+" not found")
	}
	if err != nil {
		return FileView{}, err
	}
	view := fileView(file)
	if file.UploadStatus == files.StatusUploaded {
		view.URL, err = s.files.PresignDownload(ctx, file)
		if err != nil {
			return FileView{}, err
		}
	}
	return view, nil
}

func (s *Service) ownFile(ctx context.Context, caller Caller, fileID string) (store.File, error) {
	if !util.IsUUID(fileID) {
		return store.File{}, notFound("file_not_found", "File "+fileID+" not found")
	}
	file, err := s.store.GetFile(ctx, caller.AppID, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.File{}, notFound("file_not_found", "File "+fileID+" not found")
	}
	if err != nil {
		return store.File{}, err
	}
	if file.UserID != caller.UserID {
		return store.File{}, forbidden("File belongs to another user")
	}
	return file, nil
}

func fileError(err error) error {
	switch {
	case errors.Is(err, files.ErrInvalidFile):
		return domainError(http.StatusBadRequest, "invalid_file", err.Error(), nil)
	case errors.Is(err, files.ErrTooLarge):
		return domainError(http.StatusRequestEntityTooLarge, "file_too_large", err.Error(), nil)
	case errors.Is(err, sql.ErrNoRows):
		return notFound("file_not_found", "File not found")
	}
	return err
}

// ClientThreadUpdate is what a participant can change about a thread.
type ClientThreadUpdate struct {
	Resolved   *bool `json:"resolved"`
	Subscribed *bool `json:"subscribed"`
	Seen       *bool `json:"seen"`
	Typing     *bool `json:"typing"`
}

func (s *Service) UpdateClientThread(ctx context.Context, caller Caller, threadID string, input ClientThreadUpdate) (ThreadView, error) {
	thread, err := s.visibleThread(ctx, caller, threadID)
	if err != nil {
		return ThreadView{}, err
	}
	if input.Resolved != nil && *input.Resolved != thread.Resolved() {
		if _, err := s.UpdateThread(ctx, caller, threadID, ThreadUpdate{Resolved: input.Resolved, UserID: caller.UserExternalID}); err != nil {
			return ThreadView{}, err
		}
	}
	if input.Subscribed != nil {
		if err := s.store.SetSubscribed(ctx, thread.ID, thread.OrgID, caller.UserID, *input.Subscribed); err != nil {
			return ThreadView{}, err
		}
	}
	if input.Seen != nil && *input.Seen {
		if err := s.store.MarkSeen(ctx, thread.ID, thread.OrgID, caller.UserID, s.now()); err != nil {
			return ThreadView{}, err
		}
		if _, err := s.store.MarkNotificationsRead(ctx, caller.UserID, "", thread.ID); err != nil {
			log.Printf("notifications: mark thread read %s: %v", thread.ID, err)
		}
	}
	if input.Typing != nil && s.typing != nil {
		if err := s.typing.SetTyping(ctx, thread.ID, caller.UserExternalID, *input.Typing); err != nil {
			return ThreadView{}, err
		}
		s.publish(ctx, pubsub.Event{
			Type:     pubsub.Typing,
			AppID:    thread.ApplicationID,
			ThreadID: thread.ExternalID,
			GroupID:  thread.OrgID,
			Payload:  eventPayload(map[string]any{"userID": caller.UserExternalID, "typing": *input.Typing}),
		})
	}
	return s.threadSummaryView(ctx, thread)
}

type ThreadViewRequest struct {
	Props  threadview.Props  `json:"props"`
	State  *threadview.State `json:"state"`
	Event  string            `json:"event"`
	// Location, when set, lays out the threads at that location.
	Location          store.Metadata `json:"location"`
	PartialMatch      bool           `json:"partialMatch"`
	HighlightThreadID string         `json:"highlightThreadID"`
}

type ThreadViewResponse struct {
	Plan     threadview.Plan  `json:"plan"`
	State    threadview.State `json:"state"`
	Threads  []string         `json:"threads"`
	Resolved []string         `json:"resolvedThreads"`
}

// allThreads follows pagination tokens until the last page.
func (s *Service) allThreads(ctx context.Context, caller Caller, q ThreadQuery) ([]ThreadView, error) {
	var out []ThreadView
	for {
		page, err := s.ListThreads(ctx, caller, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Threads...)
		if page.Pagination.Token == "" {
			return out, nil
		}
		q.Token = page.Pagination.Token
	}
}

// PlanThreadView lays out a threaded comments panel. With a location the
// threads there are fetched and split into the plan's lists.
func (s *Service) PlanThreadView(ctx context.Context, caller Caller, req ThreadViewRequest) (ThreadViewResponse, error) {
	var threads []threadview.Thread
	if len(req.Location) > 0 {
		views, err := s.allThreads(ctx, caller, ThreadQuery{Location: req.Location, PartialMatch: req.PartialMatch, ResolvedStatus: "any", Limit: maxThreadLimit})
		if err != nil {
			return ThreadViewResponse{}, err
		}
		for _, view := range views {
			item := threadview.Thread{ID: view.ID, Resolved: view.Resolved, LastActivityAt: view.LastActivityTimestamp}
			if view.FirstMessageTimestamp != nil {
				item.FirstMessageAt = *view.FirstMessageTimestamp
			} else {
				item.FirstMessageAt = view.CreatedTimestamp
			}
			if item.Resolved {
				req.Props.HasResolvedThreads = true
			}
			if item.ID == req.HighlightThreadID {
				req.Props.HighlightedThreadResolved = item.Resolved
			}
			threads = append(threads, item)
		}
	}

	props, err := threadview.Normalize(req.Props)
	if err != nil {
		return ThreadViewResponse{}, invalidField("props", err.Error())
	}
	state := threadview.InitialState(props)
	if req.State != nil {
		state = *req.State
	}
	if req.Event != "" {
		state, err = threadview.Toggle(state, req.Event)
		if err != nil {
			return ThreadViewResponse{}, invalidField("event", err.Error())
		}
	}
	plan, err := threadview.Build(props, state)
	if err != nil {
		return ThreadViewResponse{}, invalidField("props", err.Error())
	}
	resp := ThreadViewResponse{Plan: plan, State: state, Threads: []string{}, Resolved: []string{}}
	main, resolved := threadview.Apply(plan, threads, req.HighlightThreadID)
	for _, thread := range main {
		resp.Threads = append(resp.Threads, thread.ID)
	}
	for _, thread := range resolved {
		resp.Resolved = append(resp.Resolved, thread.ID)
	}
	return resp, nil
}

type PinGroupRequest struct {
	Stage  pins.Stage `json:"stage"`
	Pins   []pins.Pin `json:"pins"`
	Radius float64    `json:"radius"`
}

func GroupPins(req PinGroupRequest) []pins.Group {
	radius := req.Radius
	if radius <= 0 {
		radius = pins.DefaultRadius
	}
	groups := pins.Cluster(req.Stage, req.Pins, radius)
	if groups == nil {
		return []pins.Group{}
	}
	return groups
}

type PinZoomRequest struct {
	Op       string     `json:"op"`
	Stage    pins.Stage `json:"stage"`
	Scale    float64    `json:"scale"`
	Center   pins.Point `json:"center"`
	Viewport pins.Size  `json:"viewport"`
	DeltaX   float64    `json:"deltaX"`
	DeltaY   float64    `json:"deltaY"`
	Group    pins.Group `json:"group"`
	Padding  float64    `json:"padding"`
}

// ZoomPins applies one stage transform operation.
func ZoomPins(req PinZoomRequest) (pins.Stage, error) {
	switch req.Op {
	case "at":
		return pins.ZoomAt(req.Stage, req.Center, req.Scale), nil
	case "centered":
		return pins.ZoomCentered(req.Stage, req.Viewport, req.Scale), nil
	case "wheel":
		return pins.WheelZoom(req.Stage, req.Center, req.DeltaY), nil
	case "pan":
		return pins.Pan(req.Stage, req.DeltaX, req.DeltaY), nil
	case "fit":
		return pins.FitGroup(req.Stage, req.Group, req.Viewport, req.Padding), nil
	}
	return pins.Stage{}, invalidField("op", "op must be at, centered, wheel, pan or fit")
}

// StreamEvents upgrades the request to a websocket carrying the events the
// caller may see.
func (s *Service) StreamEvents(w http.ResponseWriter, r *http.Request, caller Caller) error {
	if s.events == nil {
		return unavailable("events_unavailable", "Realtime events are not configured")
	}
	groups, err := s.viewerGroups(r.Context(), caller)
	if err != nil {
		return err
	}
	s.events.Serve(w, r, realtime.Viewer{AppID: caller.AppID, UserID: caller.UserID, GroupIDs: groups})
	return nil
}

// ClientViewer is the signed-in user with their groups.
type ClientViewer struct {
	User   UserView    `json:"user"`
	Groups []GroupView `json:"groups"`
}

func (s *Service) ClientViewer(ctx context.Context, caller Caller) (ClientViewer, error) {
	user, err := s.store.GetUserByID(ctx, caller.UserID)
	if err != nil {
		return ClientViewer{}, err
	}
	groups, err := s.store.ListUserGroups(ctx, caller.UserID)
	if err != nil {
		return ClientViewer{}, err
	}
	viewer := ClientViewer{User: userView(user), Groups: []GroupView{}}
	for _, group := range groups {
		if caller.GroupScope != "" && group.ID != caller.GroupScope {
			continue
		}
		viewer.Groups = append(viewer.Groups, groupView(group, nil))
	}
	return viewer, nil
}
