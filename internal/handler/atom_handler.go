package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/hitoshi/hnreader/internal/middleware"
	"github.com/hitoshi/hnreader/internal/model"
)

const hnSiteURL = "https://news.ycombinator.com/"

// itemPageURL はHacker News上のディスカッションページのURLを返す。
func itemPageURL(id int64) string {
	return fmt.Sprintf("%sitem?id=%d", hnSiteURL, id)
}

// FeedAtom はフィードのストーリー一覧をAtom形式で出力する。
// キャッシュの鮮度判定はJSON一覧と共有する。
// GET /api/feeds/{type}/atom?limit=
func (h *StoryHandler) FeedAtom(w http.ResponseWriter, r *http.Request) {
	feedType, apiErr := feedTypeParam(r)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	limit, apiErr := queryInt(r, "limit", 0)
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	stories := h.service.GetStories(r.Context(), feedType, false, limit)

	atom, err := h.buildAtom(feedType, stories).ToAtom()
	if err != nil {
		h.logger.Error("Atomフィードの生成に失敗しました",
			slog.String("feed_type", string(feedType)),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(atom))
}

func (h *StoryHandler) buildAtom(feedType model.FeedType, stories []*model.Story) *feeds.Feed {
	updated := time.Unix(0, 0).UTC()
	for _, s := range stories {
		if t := time.Unix(s.CreatedAt, 0).UTC(); t.After(updated) {
			updated = t
		}
	}

	feed := &feeds.Feed{
		Title:       "Hacker News: " + string(feedType),
		Description: fmt.Sprintf("Hacker News %s stories", feedType),
		Link:        &feeds.Link{Href: hnSiteURL, Rel: "alternate", Type: "text/html"},
		Id:          fmt.Sprintf("tag:news.ycombinator.com,2007:%s", feedType),
		Updated:     updated,
		Created:     updated,
	}

	for _, s := range stories {
		link := s.URL
		if link == "" {
			link = itemPageURL(s.ID)
		}

		summary := []string{fmt.Sprintf("%d points", s.Score)}
		if s.CommentCount != nil {
			summary = append(summary, fmt.Sprintf("%d comments", *s.CommentCount))
		}

		item := &feeds.Item{
			Title:       s.Title,
			Link:        &feeds.Link{Href: link, Rel: "alternate", Type: "text/html"},
			Id:          itemPageURL(s.ID),
			Author:      &feeds.Author{Name: s.Author},
			Description: strings.Join(summary, ", "),
			Created:     time.Unix(s.CreatedAt, 0).UTC(),
		}
		if s.BodyHTML != "" {
			item.Content = h.sanitizer.Sanitize(s.BodyHTML)
		}
		feed.Items = append(feed.Items, item)
	}
	return feed
}
