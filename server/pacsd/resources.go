package pacsd

import (
	"strconv"

	"pacsd/pkg/eventbus"
	"pacsd/pkg/index"
	"pacsd/pkg/pacserr"
	"pacsd/pkg/restapi"
)

// levelResource binds one hierarchy level to the REST path segment that
// names it (spec.md §4.7's resource-oriented surface).
type levelResource struct {
	plural string
	level  index.Level
}

var levelResources = []levelResource{
	{"patients", index.LevelPatient},
	{"studies", index.LevelStudy},
	{"series", index.LevelSeries},
	{"instances", index.LevelInstance},
}

// registerResources wires the REST surface's concrete endpoints over the
// opaque Index/StorageArea collaborators: one list+get+delete trio per
// hierarchy level, an instance file download, the change journal, a system
// summary, and the OpenAPI/documentation-coverage export SPEC_FULL.md's
// SUPPLEMENTED FEATURES section adds on top of spec.md.
func registerResources(sc *ServerContext) {
	for _, lr := range levelResources {
		lr := lr
		sc.REST.RegisterGet("/"+lr.plural, func(c *restapi.Call) error {
			ids, err := sc.Index.ResourcesAtLevel(lr.level)
			if err != nil {
				return err
			}
			return c.AnswerJSON(ids)
		}, restapi.CallOptions{Summary: "List every resource at this level", Tags: []string{lr.plural}})

		sc.REST.RegisterGet("/"+lr.plural+"/{id}", func(c *restapi.Call) error {
			return answerResource(c, sc, lr.level, c.Captures["id"])
		}, restapi.CallOptions{Summary: "Fetch one resource's main tags", Tags: []string{lr.plural}})

		sc.REST.RegisterDelete("/"+lr.plural+"/{id}", func(c *restapi.Call) error {
			id := c.Captures["id"]
			if _, _, _, err := sc.Index.GetResource(id); err != nil {
				return err
			}
			if err := sc.Index.Delete(id); err != nil {
				return err
			}
			if _, err := sc.Index.AppendChangeEvent(index.ChangeEvent{Kind: "resource-deleted", ResourceID: id, Level: lr.level}); err == nil {
				sc.Bus.Publish(eventbus.Event{
					Kind:       eventbus.Change,
					ChangeType: eventbus.ChangeDeletedResource,
					ResourceID: id,
					Level:      lr.level.String(),
				})
			}
			return c.AnswerStatus(200)
		}, restapi.CallOptions{Summary: "Delete one resource", Tags: []string{lr.plural}})
	}

	sc.REST.RegisterGet("/instances/{id}/file", func(c *restapi.Call) error {
		_, _, tags, err := sc.Index.GetResource(c.Captures["id"])
		if err != nil {
			return err
		}
		storageID := tags["StorageID"]
		if storageID == "" {
			return pacserr.New(pacserr.InexistentItem, "instance %q has no stored file", c.Captures["id"])
		}
		content, err := sc.Area.Read(storageID)
		if err != nil {
			return err
		}
		mime, err := sc.Area.MimeType(storageID)
		if err != nil {
			mime = "application/dicom"
		}
		return c.AnswerBuffer(content, mime)
	}, restapi.CallOptions{Summary: "Download an instance's stored file", Tags: []string{"instances"}})

	sc.REST.RegisterGet("/changes", func(c *restapi.Call) error {
		since, _ := strconv.ParseUint(c.GetArg("since"), 10, 64)
		events, err := sc.Index.ChangesSince(since)
		if err != nil {
			return err
		}
		return c.AnswerJSON(events)
	}, restapi.CallOptions{Summary: "List change-journal events after a sequence number", Tags: []string{"changes"}})

	sc.REST.RegisterGet("/system", func(c *restapi.Call) error {
		return c.AnswerJSON(map[string]interface{}{
			"Name":    sc.Config.DICOM.AETitle,
			"Version": "1",
		})
	}, restapi.CallOptions{Summary: "Server identity and capabilities", Tags: []string{"system"}})

	sc.REST.RegisterGet("/tools/documentation-coverage", func(c *restapi.Call) error {
		return c.AnswerJSON(map[string]float64{"Coverage": sc.REST.DocumentationCoverage()})
	}, restapi.CallOptions{Summary: "Fraction of registered calls with documentation", Tags: []string{"tools"}})

	sc.REST.RegisterGet("/tools/openapi", func(c *restapi.Call) error {
		return c.AnswerJSON(sc.REST.OpenAPIDocument("pacsd", "1"))
	}, restapi.CallOptions{Summary: "OpenAPI document for the registered call tree", Tags: []string{"tools"}})
}

func answerResource(c *restapi.Call, sc *ServerContext, level index.Level, id string) error {
	gotLevel, parentID, tags, err := sc.Index.GetResource(id)
	if err != nil {
		return err
	}
	if gotLevel != level {
		return pacserr.New(pacserr.InexistentItem, "resource %q is not a %s", id, level)
	}
	children, err := sc.Index.Children(id)
	if err != nil {
		return err
	}
	return c.AnswerJSON(map[string]interface{}{
		"ID":             id,
		"Level":          level.String(),
		"ParentID":       parentID,
		"MainDicomTags":  tags,
		"ChildrenIDs":    children,
	})
}
