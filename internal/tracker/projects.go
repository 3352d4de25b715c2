package tracker

import (
	"context"
	"fmt"
	"strings"
)

// ProjectItem is one board item mapped back to its underlying issue.
type ProjectItem struct {
	ItemID   string
	Number   int
	Title    string
	URL      string
	Owner    string
	Repo     string
	Status   string
	Priority string
}

// ProjectConfig locates one Projects v2 board and its relevant fields.
type ProjectConfig struct {
	Owner         string
	Number        int
	StatusField   string // default "Status"
	PriorityField string // default "Priority"
}

func (p ProjectConfig) withDefaults() ProjectConfig {
	if p.StatusField == "" {
		p.StatusField = "Status"
	}
	if p.PriorityField == "" {
		p.PriorityField = "Priority"
	}
	return p
}

// Project is a validated handle on one board.
type Project struct {
	c   *Client
	cfg ProjectConfig

	id            string
	statusFieldID string
	statusOptions map[string]string // option name -> option id
}

// OpenProject validates the board exists and resolves the status field and
// its options. Validation failure is fatal to the caller by design.
func (c *Client) OpenProject(ctx context.Context, cfg ProjectConfig) (*Project, error) {
	cfg = cfg.withDefaults()
	const query = `query($owner: String!, $number: Int!) {
  organization(login: $owner) {
    projectV2(number: $number) {
      id
      fields(first: 50) {
        nodes {
          ... on ProjectV2SingleSelectField {
            id name options { id name }
          }
        }
      }
    }
  }
  user(login: $owner) {
    projectV2(number: $number) {
      id
      fields(first: 50) {
        nodes {
          ... on ProjectV2SingleSelectField {
            id name options { id name }
          }
        }
      }
    }
  }
}`
	// The org and user branches cannot both succeed; partial errors are
	// expected, so skip the errors-array check and look at data directly.
	doc, err := c.graphqlRaw(ctx, query, map[string]any{"owner": cfg.Owner, "number": cfg.Number})
	if err != nil {
		return nil, err
	}

	node := doc.Get("data.organization.projectV2")
	if !node.Exists() || node.Get("id").String() == "" {
		node = doc.Get("data.user.projectV2")
	}
	if node.Get("id").String() == "" {
		return nil, &ProjectsError{Code: "project_not_found",
			Message: fmt.Sprintf("project %s/%d not found or token lacks access", cfg.Owner, cfg.Number)}
	}

	p := &Project{
		c:             c,
		cfg:           cfg,
		id:            node.Get("id").String(),
		statusOptions: map[string]string{},
	}
	for _, f := range node.Get("fields.nodes").Array() {
		if !strings.EqualFold(f.Get("name").String(), cfg.StatusField) {
			continue
		}
		p.statusFieldID = f.Get("id").String()
		for _, opt := range f.Get("options").Array() {
			p.statusOptions[opt.Get("name").String()] = opt.Get("id").String()
		}
	}
	if p.statusFieldID == "" {
		return nil, &ProjectsError{Code: "status_field_missing",
			Message: fmt.Sprintf("project %s/%d has no single-select field %q", cfg.Owner, cfg.Number, cfg.StatusField)}
	}
	return p, nil
}

// FetchItemsByStatus lists board items whose status option equals status.
// Priority is read from the configured priority field when present.
func (p *Project) FetchItemsByStatus(ctx context.Context, status string) ([]ProjectItem, error) {
	all, err := p.fetchItems(ctx)
	if err != nil {
		return nil, err
	}
	var out []ProjectItem
	for _, it := range all {
		if strings.EqualFold(it.Status, status) {
			out = append(out, it)
		}
	}
	return out, nil
}

// fetchItems pages through every item on the board.
func (p *Project) fetchItems(ctx context.Context) ([]ProjectItem, error) {
	const query = `query($project: ID!, $cursor: String) {
  node(id: $project) {
    ... on ProjectV2 {
      items(first: 100, after: $cursor) {
        pageInfo { hasNextPage endCursor }
        nodes {
          id
          fieldValues(first: 20) {
            nodes {
              ... on ProjectV2ItemFieldSingleSelectValue {
                name
                field { ... on ProjectV2SingleSelectField { name } }
              }
            }
          }
          content {
            ... on Issue {
              number title url state
              repository { name owner { login } }
            }
          }
        }
      }
    }
  }
}`
	var out []ProjectItem
	cursor := ""
	for {
		vars := map[string]any{"project": p.id}
		if cursor != "" {
			vars["cursor"] = cursor
		}
		doc, err := p.c.graphql(ctx, query, vars)
		if err != nil {
			return nil, err
		}
		items := doc.Get("data.node.items")
		for _, n := range items.Get("nodes").Array() {
			content := n.Get("content")
			if !content.Get("number").Exists() {
				continue // draft items have no issue content
			}
			item := ProjectItem{
				ItemID: n.Get("id").String(),
				Number: int(content.Get("number").Int()),
				Title:  content.Get("title").String(),
				URL:    content.Get("url").String(),
				Owner:  content.Get("repository.owner.login").String(),
				Repo:   content.Get("repository.name").String(),
			}
			for _, fv := range n.Get("fieldValues.nodes").Array() {
				fieldName := fv.Get("field.name").String()
				switch {
				case strings.EqualFold(fieldName, p.cfg.StatusField):
					item.Status = fv.Get("name").String()
				case strings.EqualFold(fieldName, p.cfg.PriorityField):
					item.Priority = fv.Get("name").String()
				}
			}
			out = append(out, item)
		}
		if !items.Get("pageInfo.hasNextPage").Bool() {
			return out, nil
		}
		cursor = items.Get("pageInfo.endCursor").String()
	}
}

// UpdateStatus moves the board item for owner/repo#issueNumber to the named
// status option.
func (p *Project) UpdateStatus(ctx context.Context, owner, repo string, issueNumber int, status string) error {
	optionID, ok := p.statusOptions[status]
	if !ok {
		for name, id := range p.statusOptions {
			if strings.EqualFold(name, status) {
				optionID, ok = id, true
				break
			}
		}
	}
	if !ok {
		return &ProjectsError{Code: "status_option_unknown",
			Message: fmt.Sprintf("status %q is not an option of field %q", status, p.cfg.StatusField)}
	}

	itemID, err := p.findItemID(ctx, owner, repo, issueNumber)
	if err != nil {
		return err
	}

	const mutation = `mutation($project: ID!, $item: ID!, $field: ID!, $option: String!) {
  updateProjectV2ItemFieldValue(input: {
    projectId: $project, itemId: $item, fieldId: $field,
    value: {singleSelectOptionId: $option}
  }) { projectV2Item { id } }
}`
	_, err = p.c.graphql(ctx, mutation, map[string]any{
		"project": p.id, "item": itemID, "field": p.statusFieldID, "option": optionID,
	})
	return err
}

// GetIssueStatus returns the board status of owner/repo#issueNumber, or ""
// when the issue is not on the board.
func (p *Project) GetIssueStatus(ctx context.Context, owner, repo string, issueNumber int) (string, error) {
	item, found, err := p.findItem(ctx, owner, repo, issueNumber)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}
	return item.Status, nil
}

func (p *Project) findItemID(ctx context.Context, owner, repo string, issueNumber int) (string, error) {
	item, found, err := p.findItem(ctx, owner, repo, issueNumber)
	if err != nil {
		return "", err
	}
	if !found {
		return "", &ProjectsError{Code: "item_not_found",
			Message: fmt.Sprintf("issue %s/%s#%d is not on the board", owner, repo, issueNumber)}
	}
	return item.ItemID, nil
}

func (p *Project) findItem(ctx context.Context, owner, repo string, issueNumber int) (ProjectItem, bool, error) {
	items, err := p.fetchItems(ctx)
	if err != nil {
		return ProjectItem{}, false, err
	}
	for _, it := range items {
		if it.Number == issueNumber &&
			strings.EqualFold(it.Owner, owner) && strings.EqualFold(it.Repo, repo) {
			return it, true, nil
		}
	}
	return ProjectItem{}, false, nil
}
