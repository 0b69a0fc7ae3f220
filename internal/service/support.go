package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/store"
	"smartduka/backend/internal/xid"
)

// ticketSources lists, per target status, the statuses a ticket may move
// from.
var ticketSources = map[string][]string{
	domain.TicketInProgress: {domain.TicketOpen},
	domain.TicketResolved:   {domain.TicketInProgress},
	domain.TicketClosed:     {domain.TicketOpen, domain.TicketInProgress, domain.TicketResolved},
	domain.TicketOpen:       {domain.TicketResolved},
}

func (s *Service) CreateTicket(ctx context.Context, req domain.TicketCreateRequest) (domain.SupportTicket, error) {
	actor, err := shopActor(ctx)
	if err != nil {
		return domain.SupportTicket{}, err
	}
	subject := strings.TrimSpace(req.Subject)
	description := strings.TrimSpace(req.Description)
	if subject == "" || description == "" {
		return domain.SupportTicket{}, invalid("subject and description are required")
	}
	priority := strings.TrimSpace(req.Priority)
	switch priority {
	case "":
		priority = domain.PriorityMedium
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent:
	default:
		return domain.SupportTicket{}, invalid("priority must be low, medium, high or urgent")
	}

	now := s.now()
	ticket, err := s.repo.CreateTicket(ctx, domain.SupportTicket{
		ID:          xid.New("ticket"),
		ShopID:      actor.ShopID,
		Subject:     subject,
		Description: description,
		Category:    strings.ToLower(strings.TrimSpace(req.Category)),
		Priority:    priority,
		Status:      domain.TicketOpen,
		CreatedBy:   actor.UserID,
		Messages:    []domain.TicketMessage{},
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.SupportTicket{}, err
	}

	s.logAudit(ctx, actor.ShopID, "ticket_create", "support_ticket", ticket.ID, fmt.Sprintf("priority=%s,subject=%s", ticket.Priority, ticket.Subject))
	s.invalidateStats(ctx)
	return *ticket, nil
}

// ListTickets returns every shop's tickets to a super admin and the caller's
// own shop's tickets to everyone else.
func (s *Service) ListTickets(ctx context.Context, filter domain.TicketFilter) ([]domain.SupportTicket, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.IsSuperAdmin() {
		if actor.ShopID == "" {
			return nil, ErrForbidden
		}
		filter.ShopID = actor.ShopID
	}
	filter.Limit = defaultLimit(filter.Limit, 100)
	return s.repo.ListTickets(ctx, filter)
}

func (s *Service) GetTicket(ctx context.Context, ticketID string) (domain.SupportTicket, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.SupportTicket{}, err
	}
	ticket, err := s.visibleTicket(ctx, actor, ticketID)
	if err != nil {
		return domain.SupportTicket{}, err
	}
	return *ticket, nil
}

func (s *Service) AddTicketMessage(ctx context.Context, ticketID string, req domain.TicketMessageRequest) (domain.SupportTicket, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.SupportTicket{}, err
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return domain.SupportTicket{}, invalid("body is required")
	}
	ticket, err := s.visibleTicket(ctx, actor, ticketID)
	if err != nil {
		return domain.SupportTicket{}, err
	}

	updated, err := s.repo.AddTicketMessage(ctx, ticket.ID, domain.TicketMessage{
		ID:         xid.New("msg"),
		AuthorID:   actor.UserID,
		AuthorRole: actor.Role,
		Body:       body,
		CreatedAt:  s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.SupportTicket{}, invalid("ticket is closed")
		}
		return domain.SupportTicket{}, err
	}

	s.logAudit(ctx, updated.ShopID, "ticket_message", "support_ticket", updated.ID, "author_role="+actor.Role)
	return *updated, nil
}

// AssignTicket hands a ticket to a platform operator and starts work on it.
func (s *Service) AssignTicket(ctx context.Context, ticketID string, req domain.TicketAssignRequest) (domain.SupportTicket, error) {
	if _, err := superAdmin(ctx); err != nil {
		return domain.SupportTicket{}, err
	}
	assignee, err := s.repo.GetUserByID(ctx, strings.TrimSpace(req.AssigneeID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SupportTicket{}, invalid("assignee not found")
		}
		return domain.SupportTicket{}, err
	}
	if assignee.Role != domain.RoleSuperAdmin {
		return domain.SupportTicket{}, invalid("tickets can only be assigned to platform staff")
	}

	now := s.now()
	ticket, err := s.repo.AssignTicket(ctx, ticketID, assignee.ID, now)
	if err != nil {
		return domain.SupportTicket{}, err
	}
	if ticket.Status == domain.TicketOpen {
		if started, err := s.repo.UpdateTicketStatus(ctx, ticket.ID, []string{domain.TicketOpen}, domain.TicketInProgress, now); err == nil {
			ticket = started
		}
	}

	s.logAudit(ctx, ticket.ShopID, "ticket_assign", "support_ticket", ticket.ID, "assignee="+assignee.ID)
	s.invalidateStats(ctx)
	return *ticket, nil
}

func (s *Service) SetTicketStatus(ctx context.Context, ticketID string, req domain.TicketStatusRequest) (domain.SupportTicket, error) {
	if _, err := superAdmin(ctx); err != nil {
		return domain.SupportTicket{}, err
	}
	from, ok := ticketSources[req.Status]
	if !ok {
		return domain.SupportTicket{}, invalid("unknown ticket status %q", req.Status)
	}

	ticket, err := s.repo.UpdateTicketStatus(ctx, ticketID, from, req.Status, s.now())
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return domain.SupportTicket{}, invalid("ticket cannot move to %s from its current status", req.Status)
		}
		return domain.SupportTicket{}, err
	}

	s.logAudit(ctx, ticket.ShopID, "ticket_status", "support_ticket", ticket.ID, "status="+ticket.Status)
	s.invalidateStats(ctx)
	return *ticket, nil
}

// visibleTicket hides other shops' tickets behind ErrNotFound.
func (s *Service) visibleTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.SupportTicket, error) {
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !actor.IsSuperAdmin() && ticket.ShopID != actor.ShopID {
		return nil, notFound("ticket not found")
	}
	return ticket, nil
}
