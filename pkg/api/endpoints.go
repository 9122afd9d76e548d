package api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/onboarding-crm/pkg/catalog"
	"github.com/hazyhaar/onboarding-crm/pkg/clients"
	"github.com/hazyhaar/onboarding-crm/pkg/crm"
	"github.com/hazyhaar/onboarding-crm/pkg/importer"
	"github.com/hazyhaar/onboarding-crm/pkg/kit"
	"github.com/hazyhaar/onboarding-crm/pkg/search"
)

// Shared request/response types used by the HTTP, MCP and CLI transports.

// MaxSearchLimit caps the number of hits one search may return.
const MaxSearchLimit = 500

type SearchRequest struct {
	List  string `json:"list"`
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type SearchResponse struct {
	List    string       `json:"list"`
	Query   string       `json:"query"`
	Results []search.Hit `json:"results"`
}

type CanonicalizeRequest struct {
	Catalog string `json:"catalog"`
	Value   string `json:"value"`
}

type CanonicalizeResponse struct {
	Catalog string `json:"catalog"`
	Input   string `json:"input"`
	catalog.Resolution
}

type NextIDResponse struct {
	NextID string `json:"next_id"`
}

type RepairResponse struct {
	Repaired []int  `json:"repaired"`
	NextID   string `json:"next_id"`
}

type CatalogsResponse struct {
	Catalogs []*catalog.Snapshot `json:"catalogs"`
	Lists    []string            `json:"lists"`
}

type CatalogEntriesRequest struct {
	Catalog string   `json:"-"`
	Entries []string `json:"entries"`
}

type CatalogEntriesResponse struct {
	Catalog string   `json:"catalog"`
	Added   []string `json:"added"`
}

type CatalogEntryRemoveRequest struct {
	Catalog string `json:"catalog"`
	Value   string `json:"value"`
}

type CatalogEntryRemoveResponse struct {
	Catalog string `json:"catalog"`
	Value   string `json:"value"`
	Removed bool   `json:"removed"`
}

type ClientsResponse struct {
	Version uint64           `json:"version"`
	Clients []clients.Client `json:"clients"`
}

type ClientRequest struct {
	ID string `json:"id"`
}

type UpdateRequest struct {
	ID     string            `json:"-"`
	Fields map[string]string `json:"fields"`
	Note   string            `json:"note,omitempty"`
}

type DeleteRequest struct {
	ID           string `json:"-"`
	PurgeHistory bool   `json:"purge_history,omitempty"`
}

type HistoryResponse struct {
	ID      string                 `json:"id,omitempty"`
	History []clients.HistoryEntry `json:"history"`
}

type AdvisorsRequest struct {
	Name string `json:"name"`
}

type AdvisorsResponse struct {
	Name    string   `json:"name"`
	Similar []string `json:"similar"`
}

type ImportRunsResponse struct {
	Runs []importer.Run `json:"runs"`
}

// Endpoints are the CRM actions shared by every transport.
type Endpoints struct {
	Search             kit.Endpoint
	Canonicalize       kit.Endpoint
	NextID             kit.Endpoint
	RepairIDs          kit.Endpoint
	Catalogs           kit.Endpoint
	AddCatalogEntry    kit.Endpoint
	RemoveCatalogEntry kit.Endpoint
	Clients            kit.Endpoint
	Client             kit.Endpoint
	CreateClient       kit.Endpoint
	UpdateClient       kit.Endpoint
	DeleteClient       kit.Endpoint
	History            kit.Endpoint
	SimilarAdvisors    kit.Endpoint
	Import             kit.Endpoint
	ImportRuns         kit.Endpoint
}

// NewEndpoints builds the endpoints over svc, each wrapped with mw when given.
func NewEndpoints(svc *crm.Service, logger *slog.Logger, mw ...kit.Middleware) Endpoints {
	if logger == nil {
		logger = slog.Default()
	}
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		ep = kit.Logging(logger, name)(ep)
		for i := len(mw) - 1; i >= 0; i-- {
			ep = mw[i](ep)
		}
		return ep
	}
	return Endpoints{
		Search:             wrap("search", searchEndpoint(svc)),
		Canonicalize:       wrap("canonicalize", canonicalizeEndpoint(svc)),
		NextID:             wrap("next_id", nextIDEndpoint(svc)),
		RepairIDs:          wrap("repair_ids", repairIDsEndpoint(svc)),
		Catalogs:           wrap("catalogs", catalogsEndpoint(svc)),
		AddCatalogEntry:    wrap("add_catalog_entries", addCatalogEntriesEndpoint(svc)),
		RemoveCatalogEntry: wrap("remove_catalog_entry", removeCatalogEntryEndpoint(svc)),
		Clients:            wrap("clients", clientsEndpoint(svc)),
		Client:             wrap("client", clientEndpoint(svc)),
		CreateClient:       wrap("create_client", createClientEndpoint(svc)),
		UpdateClient:       wrap("update_client", updateClientEndpoint(svc)),
		DeleteClient:       wrap("delete_client", deleteClientEndpoint(svc)),
		History:            wrap("history", historyEndpoint(svc)),
		SimilarAdvisors:    wrap("similar_advisors", similarAdvisorsEndpoint(svc)),
		Import:             wrap("import", importEndpoint(svc)),
		ImportRuns:         wrap("import_runs", importRunsEndpoint(svc)),
	}
}

func searchEndpoint(svc *crm.Service) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*SearchRequest)
		if req.Limit < 0 || req.Limit > MaxSearchLimit {
			return nil, fmt.Errorf("%w: limit must be between 0 and %d", crm.ErrInvalidInput, MaxSearchLimit)
		}
		hits, err := svc.Search(req.List, req.Query, req.Limit)
		if err != nil {
			return nil, err
		}
		return SearchResponse{List: req.List, Query: req.Query, Results: hits}, nil
	}
}

func canonicalizeEndpoint(svc *crm.Service) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*CanonicalizeRequest)
		if req.Catalog == "" {
			return nil, fmt.Errorf("%w: missing catalog", crm.ErrInvalidInput)
		}
		r, err := svc.Canonicalize(req.Catalog, req.Value)
		if err != nil {
			return nil, err
		}
		return CanonicalizeResponse{Catalog: req.Catalog, Input: req.Value, Resolution: r}, nil
	}
}

func nextIDEndpoint(svc *crm.Service) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return NextIDResponse{NextID: svc.NextID()}, nil
	}
}

func repairIDsEndpoint(svc *crm.Service) kit.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		changed, err := svc.RepairIDs(ctx)
		if err != nil {
			return nil, err
		}
		if changed == nil {
			changed = []int{}
		}
		return RepairResponse{Repaired: changed, NextID: svc.NextID()}, nil
	}
}

func catalogsEndpoint(svc *crm.Service) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return CatalogsResponse{Catalogs: svc.Catalogs(), Lists: svc.Lists()}, nil
	}
}

func addCatalogEntriesEndpoint(svc *crm.Service) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*CatalogEntriesRequest)
		added, err := svc.AddCatalogEntries(req.Catalog, req.Entries...)
		if err != nil {
			return nil, err
		}
		if added == nil {
			added = []string{}
		}
		return CatalogEntriesResponse{Catalog: req.Catalog, Added: added}, nil
	}
}

// removeCatalogEntryEndpoint answers Removed false when value is absent.
func removeCatalogEntryEndpoint(svc *crm.Service) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*CatalogEntryRemoveRequest)
		if req.Value == "" {
			return nil, fmt.Errorf("%w: missing value", crm.ErrInvalidInput)
		}
		removed, err := svc.RemoveCatalogEntry(req.Catalog, req.Value)
		if err != nil {
			return nil, err
		}
		return CatalogEntryRemoveResponse{Catalog: req.Catalog, Value: req.Value, Removed: removed}, nil
	}
}

func clientsEndpoint(svc *crm.Service) kit.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return ClientsResponse{Version: svc.Version(), Clients: svc.Clients()}, nil
	}
}

func clientEndpoint(svc *crm.Service) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		return svc.Client(request.(*ClientRequest).ID)
	}
}

func createClientEndpoint(svc *crm.Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		return svc.Create(ctx, *request.(*clients.Client), kit.GetActor(ctx))
	}
}

func updateClientEndpoint(svc *crm.Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*UpdateRequest)
		return svc.Update(ctx, req.ID, req.Fields, req.Note, kit.GetActor(ctx))
	}
}

func deleteClientEndpoint(svc *crm.Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*DeleteRequest)
		if err := svc.Delete(ctx, req.ID, kit.GetActor(ctx), req.PurgeHistory); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": req.ID}, nil
	}
}

func historyEndpoint(svc *crm.Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*ClientRequest)
		var (
			entries []clients.HistoryEntry
			err     error
		)
		if strings.TrimSpace(req.ID) == "" {
			entries, err = svc.AllHistory(ctx)
		} else {
			entries, err = svc.History(ctx, req.ID)
		}
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []clients.HistoryEntry{}
		}
		return HistoryResponse{ID: req.ID, History: entries}, nil
	}
}

func similarAdvisorsEndpoint(svc *crm.Service) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(*AdvisorsRequest)
		similar := svc.SimilarAdvisors(req.Name)
		if similar == nil {
			similar = []string{}
		}
		return AdvisorsResponse{Name: req.Name, Similar: similar}, nil
	}
}

func importEndpoint(svc *crm.Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*crm.ImportRequest)
		if req.Options.Actor == "" {
			req.Options.Actor = kit.GetActor(ctx)
		}
		return svc.Import(ctx, *req)
	}
}

func importRunsEndpoint(svc *crm.Service) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		limit, _ := request.(int)
		if limit <= 0 {
			limit = 20
		}
		runs, err := svc.ImportRuns(ctx, limit)
		if err != nil {
			return nil, err
		}
		if runs == nil {
			runs = []importer.Run{}
		}
		return ImportRunsResponse{Runs: runs}, nil
	}
}
