package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatch_ApplyLeavesCompletedAt(t *testing.T) {
	done := baseTime
	task := newTask("t1", "before", 0)
	task.CompletedAt = &done

	status := StatusPending
	title := "after"
	Patch{Title: &title, Status: &status}.apply(&task)

	assert.Equal(t, "after", task.Title)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, &done, task.CompletedAt)
	assert.True(t, Patch{}.Empty())
	assert.False(t, Patch{Title: &title}.Empty())
}

func TestTask_CloneIsDeep(t *testing.T) {
	desc := "original"
	task := newTask("t1", "clone", 0)
	task.Description = &desc

	clone := task.Clone()
	*clone.Description = "changed"
	assert.Equal(t, "original", *task.Description)
}

func TestTask_Provisional(t *testing.T) {
	assert.True(t, (&Task{ID: ProvisionalPrefix + "abc"}).Provisional())
	assert.False(t, (&Task{ID: "abc"}).Provisional())
}

func TestStatusAndPriority_Valid(t *testing.T) {
	assert.True(t, StatusArchived.Valid())
	assert.False(t, Status("done").Valid())
	assert.True(t, PriorityLow.Valid())
	assert.False(t, Priority("urgent").Valid())
}

func TestPagination(t *testing.T) {
	assert.Equal(t, 40, Pagination{Page: 3, Limit: 20}.Skip())
	assert.Equal(t, 0, Pagination{Page: 0, Limit: 20}.Skip())
	assert.Equal(t, 3, pagesFor(45, 20))
	assert.Equal(t, 0, pagesFor(0, 20))
	assert.Equal(t, 1, pagesFor(20, 20))
}

func TestResolve(t *testing.T) {
	cur := Filters{Status: StatusPending}
	pg := Pagination{Page: 3, Limit: 20}

	f, p := resolve(cur, pg, nil)
	assert.Equal(t, cur, f)
	assert.Equal(t, 3, p.Page)

	f, p = resolve(cur, pg, []FilterOption{WithStatus(StatusPending)})
	assert.Equal(t, cur, f)
	assert.Equal(t, 3, p.Page, "unchanged filter keeps the page")

	f, p = resolve(cur, pg, []FilterOption{WithoutStatus(), WithSearch("x")})
	assert.Equal(t, Filters{Search: "x"}, f)
	assert.Equal(t, 1, p.Page)

	_, p = resolve(cur, pg, []FilterOption{WithLimit(20)})
	assert.Equal(t, 3, p.Page, "same limit keeps the page")

	_, p = resolve(cur, pg, []FilterOption{WithPage(-1)})
	assert.Equal(t, 3, p.Page)
}
