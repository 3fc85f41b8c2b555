// Package planningtest provides an in-memory planning service for tests.
package planningtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"smartplanning/internal/planning"
	"smartplanning/internal/snapshot"
)

// Fake stores snapshots in memory and validates them with two of the
// service's business rules: demand article ids must exist in articles and
// an empty work plan list is an error. Every document gets one warning.
type Fake struct {
	mu    sync.Mutex
	snaps map[string]*entry
	order []string

	validations int
	uploads     int
}

type entry struct {
	info planning.SnapshotInfo
	doc  *snapshot.Document
}

func New() *Fake { return &Fake{snaps: map[string]*entry{}} }

// Put stores raw under id and name, replacing any existing snapshot.
func (f *Fake) Put(id, name, raw string) error {
	doc, err := snapshot.Parse([]byte(raw))
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.snaps[id]; !ok {
		f.order = append(f.order, id)
	}
	f.snaps[id] = &entry{info: planning.SnapshotInfo{ID: id, Name: name}, doc: doc}
	return nil
}

// Document returns a copy of the stored document, or nil.
func (f *Fake) Document(id string) *snapshot.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.snaps[id]; ok {
		return e.doc.Clone()
	}
	return nil
}

func (f *Fake) Counts() (validations, uploads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validations, f.uploads
}

func (f *Fake) get(id string) (*entry, error) {
	e, ok := f.snaps[id]
	if !ok {
		return nil, &planning.APIError{Method: "GET", URL: "/snapshots/" + id, Status: 404, Body: "not found"}
	}
	return e, nil
}

func (f *Fake) CreateSnapshot(_ context.Context, opts planning.CreateOptions) (planning.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, _ := snapshot.Parse([]byte(`{"articles": [], "demands": []}`))
	if opts.CopyFrom != "" {
		src, err := f.get(opts.CopyFrom)
		if err != nil {
			return planning.SnapshotInfo{}, err
		}
		doc = src.doc.Clone()
	}
	id := uuid.NewString()
	name := opts.Name
	if name == "" {
		name = "Snapshot " + id[:8]
	}
	info := planning.SnapshotInfo{ID: id, Name: name, Comment: opts.Comment, ParentID: opts.CopyFrom}
	f.snaps[id] = &entry{info: info, doc: doc}
	f.order = append(f.order, id)
	return info, nil
}

func (f *Fake) ListSnapshots(context.Context) ([]planning.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]planning.SnapshotInfo, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.snaps[id].info)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *Fake) GetSnapshot(_ context.Context, id string) (*planning.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return &planning.Snapshot{SnapshotInfo: e.info, Document: e.doc.Clone()}, nil
}

func (f *Fake) UpdateSnapshot(_ context.Context, id, name string, doc *snapshot.Document, comment string) (planning.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get(id)
	if err != nil {
		return planning.SnapshotInfo{}, err
	}
	f.uploads++
	e.doc = doc.Clone()
	if name != "" {
		e.info.Name = name
	}
	if comment != "" {
		e.info.Comment = comment
	}
	valid := !Rules(e.doc).HasErrors()
	e.info.IsSuccessfullyValidated = &valid
	e.info.DataModifiedBy = "planningtest"
	return e.info, nil
}

func (f *Fake) RenameSnapshot(_ context.Context, id, name string) (planning.SnapshotInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get(id)
	if err != nil {
		return planning.SnapshotInfo{}, err
	}
	e.info.Name = name
	return e.info, nil
}

func (f *Fake) DeleteSnapshot(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.get(id); err != nil {
		return err
	}
	delete(f.snaps, id)
	for i, o := range f.order {
		if o == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *Fake) Validate(_ context.Context, id string) (planning.Validation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, err := f.get(id)
	if err != nil {
		return planning.Validation{}, err
	}
	f.validations++
	msgs := Rules(e.doc)
	v := planning.Validation{Status: planning.StatusOK, Messages: msgs}
	if msgs.HasErrors() {
		v.Status = planning.StatusBusinessValidationError
	}
	return v, nil
}

// Rules returns the messages Fake reports for doc.
func Rules(doc *snapshot.Document) snapshot.Messages {
	var out snapshot.Messages
	if doc == nil {
		return out
	}
	known := map[string]bool{}
	articles, _ := doc.Collection("articles")
	for _, a := range articles {
		if m, ok := a.(map[string]any); ok {
			known[snapshot.Scalar(m["articleId"])] = true
		}
	}
	demands, _ := doc.Collection("demands")
	for _, d := range demands {
		m, ok := d.(map[string]any)
		if !ok {
			continue
		}
		id := snapshot.Scalar(m["articleId"])
		if !known[id] {
			out = append(out, snapshot.Message{Level: snapshot.LevelError,
				Message: "[validate_demand_article_ids] Article IDs in Demands do not exist in Articles: " + id})
		}
	}
	if plans, ok := doc.Collection("workPlans"); ok && len(plans) == 0 {
		out = append(out, snapshot.Message{Level: snapshot.LevelError, Message: "[validate_work_plans] No work plans defined"})
	}
	out = append(out, snapshot.Message{Level: snapshot.LevelWarning, Message: "[validate_density_values] density not set"})
	return out
}

// Dangling returns a document whose n demands reference articles that do
// not exist; the heuristic correction maps each to SPE_PU_gr.
func Dangling(n int) string {
	demands := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			demands += ","
		}
		demands += fmt.Sprintf(`{"demandId": "D%03d", "articleId": "SPE_PU_g%d"}`, i, i)
	}
	return `{"articles": [{"articleId": "SPE_PU_gr"}], "demands": [` + demands + `]}`
}
