package story

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/hnreader/internal/model"
)

// GetComments はストーリーのコメントツリーを返す。
// maxDepthが0以下または設定上限を超える場合は設定上限を使用する。トップレベルの深さは0。
// 本文が空のコメントはその返信ごと除外する。コメントはキャッシュせず、呼び出しごとに再構築する。
// ストーリーが存在しない場合はnilを返す。
func (s *Service) GetComments(ctx context.Context, storyID int64, maxDepth int) []*model.CommentNode {
	if storyID <= 0 {
		return nil
	}
	st, _ := s.lookupStory(ctx, storyID)
	if st == nil {
		return nil
	}
	if maxDepth <= 0 || maxDepth > s.opts.CommentMaxDepth {
		maxDepth = s.opts.CommentMaxDepth
	}

	start := time.Now()
	tree := s.buildTree(ctx, st.ChildIDs, 0, maxDepth)

	s.logger.Debug("コメントツリーを構築しました",
		slog.Int64("story_id", storyID),
		slog.Int("top_level", len(tree)),
		slog.Int("max_depth", maxDepth),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return tree
}

func (s *Service) buildTree(ctx context.Context, ids []int64, depth, maxDepth int) []*model.CommentNode {
	nodes := make([]*model.CommentNode, 0, len(ids))
	if len(ids) == 0 || depth >= maxDepth {
		return nodes
	}

	for _, c := range s.loader.LoadComments(ctx, ids) {
		if strings.TrimSpace(c.BodyHTML) == "" {
			continue
		}
		node := &model.CommentNode{Comment: c, Depth: depth, Replies: []*model.CommentNode{}}
		if depth+1 < maxDepth && len(c.ChildIDs) > 0 {
			node.Replies = s.buildTree(ctx, c.ChildIDs, depth+1, maxDepth)
		}
		nodes = append(nodes, node)
	}
	return nodes
}
