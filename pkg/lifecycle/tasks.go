package lifecycle

import (
	"context"
	"strings"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/operation"
	"github.com/Mindburn-Labs/marketplace/pkg/store"
)

// PostTaskInput is a customer's intent to publish a task.
type PostTaskInput struct {
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	CategoryID   string             `json:"category_id"`
	Location     string             `json:"location"`
	BudgetMin    *int64             `json:"budget_min,omitempty"`
	BudgetMax    *int64             `json:"budget_max,omitempty"`
	PricingType  market.PricingType `json:"pricing_type"`
	Urgent       bool               `json:"urgent"`
	ScheduledFor *market.Date       `json:"scheduled_for,omitempty"`
}

func (e *Engine) validateTask(op string, in *PostTaskInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return invalidInput(op, "title is required")
	}
	if in.PricingType == "" {
		in.PricingType = market.PricingFixed
	}
	if !in.PricingType.Valid() {
		return invalidInput(op, "unknown pricing type %q", in.PricingType)
	}
	if e.categories != nil && !e.categories[in.CategoryID] {
		return invalidInput(op, "unknown category %q", in.CategoryID)
	}
	if (in.BudgetMin != nil && *in.BudgetMin < 0) || (in.BudgetMax != nil && *in.BudgetMax < 0) {
		return invalidInput(op, "budget must not be negative")
	}
	if in.BudgetMin != nil && in.BudgetMax != nil && *in.BudgetMin > *in.BudgetMax {
		return invalidInput(op, "budget_min exceeds budget_max")
	}
	if in.ScheduledFor != nil && in.ScheduledFor.Before(e.today()) {
		return invalidInput(op, "scheduled date %s is in the past", in.ScheduledFor)
	}
	return nil
}

// PostTask publishes a new open task owned by the acting customer.
func (e *Engine) PostTask(ctx context.Context, actor market.Actor, in PostTaskInput) (*market.Task, error) {
	const op = "lifecycle.PostTask"
	return operation.Call(ctx, e.run, op, actor, func(ctx context.Context) (*market.Task, error) {
		if !actor.IsCustomer() {
			return nil, notOwner(op, "task", "", "only customers post tasks")
		}
		if err := e.validateTask(op, &in); err != nil {
			return nil, err
		}
		now := e.now()
		t := &market.Task{
			ID:           e.newID(),
			CustomerID:   actor.ID,
			Title:        in.Title,
			Description:  in.Description,
			CategoryID:   in.CategoryID,
			Location:     in.Location,
			BudgetMin:    in.BudgetMin,
			BudgetMax:    in.BudgetMax,
			PricingType:  in.PricingType,
			Urgent:       in.Urgent,
			Status:       market.TaskOpen,
			ScheduledFor: in.ScheduledFor,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.store.CreateTask(ctx, t); err != nil {
			return nil, err
		}
		e.logger.InfoContext(ctx, "task posted", "task_id", t.ID, "actor", actor.ID, "category", t.CategoryID)
		return t, nil
	})
}

func (e *Engine) GetTask(ctx context.Context, actor market.Actor, id string) (*market.Task, error) {
	return operation.Call(ctx, e.run, "lifecycle.GetTask", actor, func(ctx context.Context) (*market.Task, error) {
		return e.store.GetTask(ctx, id)
	})
}

// CustomerTasks lists the tasks posted by the acting customer, newest first.
func (e *Engine) CustomerTasks(ctx context.Context, actor market.Actor, statuses ...market.TaskStatus) ([]*market.Task, error) {
	return operation.Call(ctx, e.run, "lifecycle.CustomerTasks", actor, func(ctx context.Context) ([]*market.Task, error) {
		return e.store.ListTasks(ctx, store.TaskFilter{CustomerID: actor.ID, Statuses: statuses})
	})
}

// ProviderTasks lists the tasks assigned to the acting provider.
func (e *Engine) ProviderTasks(ctx context.Context, actor market.Actor, statuses ...market.TaskStatus) ([]*market.Task, error) {
	return operation.Call(ctx, e.run, "lifecycle.ProviderTasks", actor, func(ctx context.Context) ([]*market.Task, error) {
		return e.store.ListTasks(ctx, store.TaskFilter{ProviderID: actor.ID, Statuses: statuses})
	})
}

// ApplyToTask records the acting provider's interest in an open task.
func (e *Engine) ApplyToTask(ctx context.Context, actor market.Actor, taskID, message string) (*market.Application, error) {
	const op = "lifecycle.ApplyToTask"
	return operation.Call(ctx, e.run, op, actor, func(ctx context.Context) (*market.Application, error) {
		if !actor.IsProvider() {
			return nil, notOwner(op, "task", taskID, "only providers apply to tasks")
		}
		t, err := e.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if t.Status != market.TaskOpen {
			return nil, &market.Error{
				Kind: market.KindInvalidTransition, Op: op, Entity: "task", ID: taskID,
				Detail: "task is " + string(t.Status) + ", not open",
			}
		}
		if t.CustomerID == actor.ID {
			return nil, notOwner(op, "task", taskID, "cannot apply to own task")
		}
		a := &market.Application{
			ID:         e.newID(),
			TaskID:     taskID,
			ProviderID: actor.ID,
			Message:    message,
			Status:     market.ApplicationPending,
			CreatedAt:  e.now(),
		}
		if err := e.store.CreateApplication(ctx, a); err != nil {
			return nil, err
		}
		e.logger.InfoContext(ctx, "application submitted", "task_id", taskID, "application_id", a.ID, "actor", actor.ID)
		return a, nil
	})
}

// ListApplications returns a task's applications. The owner sees all of
// them; a provider sees only their own.
func (e *Engine) ListApplications(ctx context.Context, actor market.Actor, taskID string) ([]*market.Application, error) {
	const op = "lifecycle.ListApplications"
	return operation.Call(ctx, e.run, op, actor, func(ctx context.Context) ([]*market.Application, error) {
		t, err := e.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		f := store.ApplicationFilter{TaskID: taskID}
		if t.CustomerID != actor.ID {
			if !actor.IsProvider() {
				return nil, notOwner(op, "task", taskID, "")
			}
			f.ProviderID = actor.ID
		}
		return e.store.ListApplications(ctx, f)
	})
}

// AssignProvider moves an open task to assigned with the provider of the
// chosen application. The chosen application is accepted and every other
// pending application of the task is closed, all in one unit.
func (e *Engine) AssignProvider(ctx context.Context, actor market.Actor, taskID, applicationID string) (*market.Task, error) {
	const op = "lifecycle.AssignProvider"
	return operation.Call(ctx, e.run, op, actor, func(ctx context.Context) (*market.Task, error) {
		var out *market.Task
		err := e.store.Atomically(ctx, func(tx store.Store) error {
			t, err := tx.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			if t.CustomerID != actor.ID {
				return notOwner(op, "task", taskID, "only the task owner assigns a provider")
			}
			if !t.Status.CanTransition(market.TaskAssigned) {
				return invalidTransition(op, "task", taskID, t.Status, market.TaskAssigned)
			}
			chosen, err := tx.GetApplication(ctx, applicationID)
			if err != nil {
				return err
			}
			if chosen.TaskID != taskID {
				return invalidInput(op, "application %s is not for task %s", applicationID, taskID)
			}
			if chosen.Status != market.ApplicationPending {
				return invalidInput(op, "application %s is %s", applicationID, chosen.Status)
			}

			from := t.Status
			t.Status = market.TaskAssigned
			t.AssignedProviderID = chosen.ProviderID
			t.UpdatedAt = e.now()
			if err := tx.UpdateTask(ctx, t); err != nil {
				return err
			}

			apps, err := tx.ListApplications(ctx, store.ApplicationFilter{TaskID: taskID})
			if err != nil {
				return err
			}
			for _, a := range apps {
				if a.Status != market.ApplicationPending {
					continue
				}
				if a.ID == chosen.ID {
					a.Status = market.ApplicationAccepted
				} else {
					a.Status = market.ApplicationClosed
				}
				if err := tx.UpdateApplication(ctx, a); err != nil {
					return err
				}
			}
			e.logger.InfoContext(ctx, "task transition", "task_id", taskID, "from", from, "to", t.Status,
				"actor", actor.ID, "provider_id", chosen.ProviderID)
			out = t
			return nil
		})
		return out, err
	})
}

// StartTask moves an assigned task to in_progress. The assigned provider or
// the owner may start it.
func (e *Engine) StartTask(ctx context.Context, actor market.Actor, taskID string) (*market.Task, error) {
	return e.transitionTask(ctx, "lifecycle.StartTask", actor, taskID, market.TaskInProgress,
		func(t *market.Task) bool { return t.CustomerID == actor.ID || t.AssignedProviderID == actor.ID })
}

// CompleteTask marks an in-progress task done. Owner only.
func (e *Engine) CompleteTask(ctx context.Context, actor market.Actor, taskID string) (*market.Task, error) {
	return e.transitionTask(ctx, "lifecycle.CompleteTask", actor, taskID, market.TaskCompleted,
		func(t *market.Task) bool { return t.CustomerID == actor.ID })
}

// CancelTask cancels a non-terminal task. Owner only. Pending applications
// are closed with it.
func (e *Engine) CancelTask(ctx context.Context, actor market.Actor, taskID string) (*market.Task, error) {
	return e.transitionTask(ctx, "lifecycle.CancelTask", actor, taskID, market.TaskCancelled,
		func(t *market.Task) bool { return t.CustomerID == actor.ID })
}

func (e *Engine) transitionTask(ctx context.Context, op string, actor market.Actor, taskID string,
	to market.TaskStatus, allowed func(*market.Task) bool) (*market.Task, error) {
	return operation.Call(ctx, e.run, op, actor, func(ctx context.Context) (*market.Task, error) {
		var out *market.Task
		err := e.store.Atomically(ctx, func(tx store.Store) error {
			t, err := tx.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			if !allowed(t) {
				return notOwner(op, "task", taskID, "")
			}
			if !t.Status.CanTransition(to) {
				return invalidTransition(op, "task", taskID, t.Status, to)
			}
			from := t.Status
			t.Status = to
			t.UpdatedAt = e.now()
			if err := tx.UpdateTask(ctx, t); err != nil {
				return err
			}
			if to == market.TaskCancelled {
				if err := closePending(ctx, tx, taskID); err != nil {
					return err
				}
			}
			e.logger.InfoContext(ctx, "task transition", "task_id", taskID, "from", from, "to", to, "actor", actor.ID)
			out = t
			return nil
		})
		return out, err
	})
}

func closePending(ctx context.Context, tx store.Store, taskID string) error {
	apps, err := tx.ListApplications(ctx, store.ApplicationFilter{TaskID: taskID})
	if err != nil {
		return err
	}
	for _, a := range apps {
		if a.Status != market.ApplicationPending {
			continue
		}
		a.Status = market.ApplicationClosed
		if err := tx.UpdateApplication(ctx, a); err != nil {
			return err
		}
	}
	return nil
}
