package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymdesk/internal/cache"
	"github.com/smallbiznis/gymdesk/internal/config"
	memberdomain "github.com/smallbiznis/gymdesk/internal/member/domain"
	"github.com/smallbiznis/gymdesk/pkg/db/pagination"
	"github.com/smallbiznis/gymdesk/pkg/failure"
	"github.com/smallbiznis/gymdesk/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Repo        memberdomain.Repository
	Generations *cache.Generations `optional:"true"`
	Config      config.Config      `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  memberdomain.Repository
	lists *cache.ListCache[memberdomain.ListMembersResponse]
}

func NewService(p Params) memberdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("member.service"),
		repo:  p.Repo,
		lists: cache.NewListCache[memberdomain.ListMembersResponse](cache.ResourceMembers, p.Generations, p.Config.ListCacheTTL),
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*memberdomain.Member, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, memberdomain.ErrInvalidTenant
	}
	member, err := s.repo.FindByID(ctx, s.db, scope, id)
	if err != nil {
		return nil, failure.Aborted(err)
	}
	if member == nil {
		return nil, memberdomain.ErrMemberNotFound
	}
	return member, nil
}

func (s *Service) List(ctx context.Context, req memberdomain.ListMembersRequest) (memberdomain.ListMembersResponse, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return memberdomain.ListMembersResponse{}, memberdomain.ErrInvalidTenant
	}

	var afterID snowflake.ID
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return memberdomain.ListMembersResponse{}, memberdomain.ErrInvalidPageToken
	}
	if cursor != nil {
		afterID, err = snowflake.ParseString(strings.TrimSpace(cursor.ID))
		if err != nil || afterID == 0 {
			return memberdomain.ListMembersResponse{}, memberdomain.ErrInvalidPageToken
		}
	}

	limit := req.Limit()
	query := listQuery(req.Status, afterID, limit)
	if cached, ok := s.lists.Get(ctx, scope, query); ok {
		return cached, nil
	}

	items, err := s.repo.List(ctx, s.db, scope, req.Status, afterID, limit)
	if err != nil {
		return memberdomain.ListMembersResponse{}, failure.Aborted(err)
	}
	items, pageInfo, err := pagination.BuildCursorPageInfo(items, limit, func(m *memberdomain.Member) pagination.Cursor {
		return pagination.Cursor{ID: m.ID.String()}
	})
	if err != nil {
		return memberdomain.ListMembersResponse{}, err
	}

	members := make([]memberdomain.Member, 0, len(items))
	for _, item := range items {
		members = append(members, *item)
	}
	resp := memberdomain.ListMembersResponse{PageInfo: *pageInfo, Members: members}
	s.lists.Set(ctx, scope, query, resp)
	return resp, nil
}

func (s *Service) Memberships(ctx context.Context, memberID snowflake.ID) ([]memberdomain.MemberMembership, error) {
	scope, ok := tenantctx.FromContext(ctx)
	if !ok {
		return nil, memberdomain.ErrInvalidTenant
	}
	if _, err := s.Get(ctx, memberID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListMemberships(ctx, s.db, scope, memberID)
	if err != nil {
		return nil, failure.Aborted(err)
	}
	return items, nil
}

func listQuery(status memberdomain.MemberStatus, afterID snowflake.ID, limit int) string {
	var b strings.Builder
	b.WriteString("status=")
	b.WriteString(string(status))
	b.WriteString("&after=")
	b.WriteString(afterID.String())
	b.WriteString("&limit=")
	b.WriteString(strconv.Itoa(limit))
	return b.String()
}
