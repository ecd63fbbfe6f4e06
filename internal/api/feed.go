package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/feeds"

	"stock_monitor/internal/model"
	"stock_monitor/internal/notify"
)

// buildFeed renders the changes of the last check as an RSS document.
func (s *Server) buildFeed(res *model.CheckResult) (string, error) {
	checked := time.UnixMilli(res.Timestamp).UTC()
	feed := &feeds.Feed{
		Title:       "Shop changes",
		Link:        &feeds.Link{Href: s.format.ShopURL(), Rel: "self", Type: "text/html"},
		Description: "New, restocked and updated catalog items",
		Id:          s.format.ShopURL(),
		Created:     checked,
		Updated:     checked,
	}

	for _, c := range res.Changes {
		feed.Items = append(feed.Items, &feeds.Item{
			Title:       fmt.Sprintf("%s: %s", notify.KindLabel(c.Kind), c.Item.Name),
			Link:        &feeds.Link{Href: s.format.ItemURL(c.Item.ID), Rel: "alternate", Type: "text/html"},
			Id:          fmt.Sprintf("%d-%d-%s", c.Item.ID, c.Item.UpdatedAt, c.Kind),
			Description: fmt.Sprintf("%s | Stock: %s", notify.FormatPrice(c.Item.Price), c.StockText),
			Created:     checked,
		})
	}

	return feed.ToRss()
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	res, err := s.snapshots.LoadStatus(r.Context())
	if err != nil {
		s.log.Error("load status", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rss, err := s.buildFeed(res)
	if err != nil {
		s.log.Error("render feed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	_, _ = w.Write([]byte(rss))
}
