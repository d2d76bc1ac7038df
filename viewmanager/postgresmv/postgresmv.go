// Package postgresmv implements viewmanager.Port against PostgreSQL,
// materializing filter results as real MATERIALIZED VIEWs with GIST/B-tree
// indexing and size-tiered CLUSTERing.
package postgresmv

import (
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx"

	"github.com/filtermate/spatialengine/internal/fmlog"
	"github.com/filtermate/spatialengine/model"
	"github.com/filtermate/spatialengine/sqlsafe"
	"github.com/filtermate/spatialengine/viewmanager"
)

var log = fmlog.For("viewmanager.postgresmv")

// ClusterTimeout bounds the independent connection a CLUSTER runs on.
const ClusterTimeout = 120 * time.Second

// Manager is a PostgreSQL-backed viewmanager.Port. One Manager is shared
// across an engine session; it tracks the views it created so Cleanup can
// find them all again without a catalog scan.
type Manager struct {
	pool        *pgx.ConnPool
	schema      string
	thresholds  viewmanager.Thresholds
	pgMajor     int // server major version, gates INCLUDE()/CREATE STATISTICS

	mu    sync.Mutex
	views map[string]map[string]model.ViewInfo // sessionID -> name -> info

	clusterWG sync.WaitGroup // in-flight async CLUSTER goroutines
}

// New constructs a Manager. schema is the working schema views are created
// in (falls back to "public" when empty); pgMajor is the detected server
// major version.
func New(pool *pgx.ConnPool, schema string, pgMajor int, th viewmanager.Thresholds) *Manager {
	if schema == "" {
		schema = "public"
	}
	return &Manager{
		pool:       pool,
		schema:     schema,
		thresholds: th,
		pgMajor:    pgMajor,
		views:      make(map[string]map[string]model.ViewInfo),
	}
}

func (m *Manager) track(sessionID string, v model.ViewInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.views[sessionID] == nil {
		m.views[sessionID] = make(map[string]model.ViewInfo)
	}
	m.views[sessionID][v.Name] = v
}

// Create implements viewmanager.Port.
func (m *Manager) Create(req viewmanager.Request) (model.ViewInfo, bool, error) {
	name := viewmanager.Name(req.Kind, req.SessionID, req.Query)

	m.mu.Lock()
	if existing, ok := m.views[req.SessionID][name]; ok {
		m.mu.Unlock()
		log.WithField("view", name).Debug("reusing existing materialized view")
		return existing, true, nil
	}
	m.mu.Unlock()

	qualified := fmt.Sprintf("%s.%s", sqlsafe.MustQuoteIdent(m.schema), sqlsafe.MustQuoteIdent(name))

	kind := "materialized_view"
	createSQL := fmt.Sprintf(`CREATE MATERIALIZED VIEW %s AS %s WITH NO DATA`, qualified, req.Query)
	if _, err := m.pool.Exec(createSQL); err != nil {
		// Some PostgreSQL configurations disallow MATERIALIZED VIEW
		// creation in the session's search_path schema (e.g. restricted
		// roles); fall back to an ordinary table, which still serves
		// every downstream read but cannot use REFRESH CONCURRENTLY.
		createSQL = fmt.Sprintf(`CREATE TABLE %s AS %s`, qualified, req.Query)
		if _, err2 := m.pool.Exec(createSQL); err2 != nil {
			return model.ViewInfo{}, false, fmt.Errorf("postgresmv: creating %s: %w (fallback also failed: %v)", name, err, err2)
		}
		kind = "temp_table"
	} else {
		if _, err := m.pool.Exec(fmt.Sprintf(`REFRESH MATERIALIZED VIEW %s`, qualified)); err != nil {
			return model.ViewInfo{}, false, fmt.Errorf("postgresmv: populating %s: %w", name, err)
		}
	}

	rowCount, err := m.rowCount(qualified)
	if err != nil {
		log.WithField("view", name).WithError(err).Warn("row count probe failed")
	}

	if err := m.buildIndexes(qualified, name, req, rowCount); err != nil {
		log.WithField("view", name).WithError(err).Warn("index build failed; view remains usable unindexed")
	}

	if _, err := m.pool.Exec(fmt.Sprintf(`ANALYZE %s`, qualified)); err != nil {
		log.WithField("view", name).WithError(err).Warn("ANALYZE failed")
	}
	if m.pgMajor >= 10 {
		stat := fmt.Sprintf(`CREATE STATISTICS IF NOT EXISTS %s ON %s FROM %s`,
			sqlsafe.MustQuoteIdent(name+"_stat"), sqlsafe.MustQuoteIdent(req.PKColumn), qualified)
		if _, err := m.pool.Exec(stat); err != nil {
			log.WithField("view", name).WithError(err).Debug("CREATE STATISTICS skipped")
		}
	}

	switch m.thresholds.ChooseClusterTier(rowCount) {
	case viewmanager.ClusterSync:
		m.cluster(qualified, name)
	case viewmanager.ClusterAsync:
		m.clusterWG.Add(1)
		go m.clusterAsync(qualified, name)
	case viewmanager.ClusterSkip:
		log.WithField("view", name).WithField("rows", rowCount).Debug("skipping CLUSTER for very large view")
	}

	info := model.ViewInfo{
		Name:            name,
		Kind:            kind,
		Schema:          m.schema,
		RowCount:        rowCount,
		IsPopulated:     true,
		Definition:      req.Query,
		SessionID:       req.SessionID,
		GeometryColumn:  req.GeomColumn,
		SRID:            req.SRID,
		HasSpatialIndex: req.GeomColumn != "",
	}
	m.track(req.SessionID, info)
	return info, false, nil
}

func (m *Manager) rowCount(qualified string) (int64, error) {
	var n int64
	row := m.pool.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, qualified))
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *Manager) buildIndexes(qualified, name string, req viewmanager.Request, rowCount int64) error {
	if req.GeomColumn != "" {
		idxName := sqlsafe.MustQuoteIdent(name + "_gix")
		include := ""
		if m.pgMajor >= 11 && req.PKColumn != "" {
			include = fmt.Sprintf(" INCLUDE (%s)", sqlsafe.MustQuoteIdent(req.PKColumn))
		}
		gistSQL := fmt.Sprintf(
			`CREATE INDEX %s ON %s USING GIST (%s%s) WITH (FILLFACTOR=90)`,
			idxName, qualified, sqlsafe.MustQuoteIdent(req.GeomColumn), include,
		)
		if _, err := m.pool.Exec(gistSQL); err != nil {
			return err
		}
		if rowCount >= m.thresholds.BBoxColumnThreshold {
			bboxCol := sqlsafe.MustQuoteIdent("__bbox")
			if _, err := m.pool.Exec(fmt.Sprintf(
				`ALTER TABLE %s ADD COLUMN %s geometry`, qualified, bboxCol,
			)); err == nil {
				m.pool.Exec(fmt.Sprintf(
					`UPDATE %s SET %s = ST_Envelope(%s)`, qualified, bboxCol, sqlsafe.MustQuoteIdent(req.GeomColumn),
				))
			}
		}
	}
	if req.PKColumn != "" {
		btreeSQL := fmt.Sprintf(
			`CREATE INDEX %s ON %s (%s)`,
			sqlsafe.MustQuoteIdent(name+"_pk"), qualified, sqlsafe.MustQuoteIdent(req.PKColumn),
		)
		if _, err := m.pool.Exec(btreeSQL); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) cluster(qualified, name string) {
	idx := sqlsafe.MustQuoteIdent(name + "_gix")
	if _, err := m.pool.Exec(fmt.Sprintf(`CLUSTER %s USING %s`, qualified, idx)); err != nil {
		log.WithField("view", name).WithError(err).Debug("CLUSTER failed")
	}
}

// clusterAsync runs CLUSTER on an independent connection with a bounded
// statement_timeout, so a slow cluster of a mid-size view never blocks the
// session's primary connection.
func (m *Manager) clusterAsync(qualified, name string) {
	defer m.clusterWG.Done()

	conn, err := m.pool.Acquire()
	if err != nil {
		log.WithField("view", name).WithError(err).Debug("async CLUSTER: could not acquire connection")
		return
	}
	defer m.pool.Release(conn)

	timeoutMS := int(ClusterTimeout / time.Millisecond)
	if _, err := conn.Exec(fmt.Sprintf(`SET statement_timeout = %d`, timeoutMS)); err != nil {
		log.WithField("view", name).WithError(err).Debug("async CLUSTER: setting statement_timeout failed")
	}
	idx := sqlsafe.MustQuoteIdent(name + "_gix")
	if _, err := conn.Exec(fmt.Sprintf(`CLUSTER %s USING %s`, qualified, idx)); err != nil {
		log.WithField("view", name).WithError(err).Debug("async CLUSTER failed or timed out")
	}
}

// Refresh implements viewmanager.Port.
func (m *Manager) Refresh(view model.ViewInfo, query string) error {
	qualified := fmt.Sprintf("%s.%s", sqlsafe.MustQuoteIdent(view.Schema), sqlsafe.MustQuoteIdent(view.Name))
	if view.Kind == "materialized_view" {
		if _, err := m.pool.Exec(fmt.Sprintf(`REFRESH MATERIALIZED VIEW CONCURRENTLY %s`, qualified)); err != nil {
			if _, err2 := m.pool.Exec(fmt.Sprintf(`REFRESH MATERIALIZED VIEW %s`, qualified)); err2 != nil {
				return fmt.Errorf("postgresmv: refreshing %s: %w", view.Name, err2)
			}
		}
		return nil
	}
	if _, err := m.pool.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, qualified)); err != nil {
		return err
	}
	_, err := m.pool.Exec(fmt.Sprintf(`CREATE TABLE %s AS %s`, qualified, query))
	return err
}

// WaitForClusters blocks until every in-flight asynchronous CLUSTER
// goroutine started by Create has returned. Callers that are about to drop
// or disconnect from views (Cleanup, engine shutdown) call this first so an
// async CLUSTER never races a DROP on the same relation.
func (m *Manager) WaitForClusters() {
	m.clusterWG.Wait()
}

// Cleanup implements viewmanager.Port.
func (m *Manager) Cleanup(sessionID string) (int, error) {
	m.WaitForClusters()

	m.mu.Lock()
	views := m.views[sessionID]
	delete(m.views, sessionID)
	m.mu.Unlock()

	dropped := 0
	for _, v := range views {
		qualified := fmt.Sprintf("%s.%s", sqlsafe.MustQuoteIdent(v.Schema), sqlsafe.MustQuoteIdent(v.Name))
		kind := "MATERIALIZED VIEW"
		if v.Kind != "materialized_view" {
			kind = "TABLE"
		}
		if _, err := m.pool.Exec(fmt.Sprintf(`DROP %s IF EXISTS %s CASCADE`, kind, qualified)); err != nil {
			log.WithField("view", v.Name).WithError(err).Warn("cleanup: drop failed, continuing")
			continue
		}
		dropped++
	}
	return dropped, nil
}

// Views implements viewmanager.Port.
func (m *Manager) Views(sessionID string) []model.ViewInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ViewInfo, 0, len(m.views[sessionID]))
	for _, v := range m.views[sessionID] {
		out = append(out, v)
	}
	return out
}
