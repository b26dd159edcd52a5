package server

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Extra-Chill/plasma-bridge/internal/audit"
	"github.com/Extra-Chill/plasma-bridge/internal/hostops"
	"github.com/Extra-Chill/plasma-bridge/internal/protocol"
)

// dispatch runs one admitted request on the worker. OS error text is only
// logged; the client sees the generic failure notice.
func (c *conn) dispatch(msg protocol.Message) {
	log := c.log.With().Str("event", msg.Event).Logger()

	switch p := msg.Payload.(type) {
	case *protocol.GetFiles:
		c.listFiles(log, p)
	case *protocol.ReadFile:
		c.readFile(log, p)
	case *protocol.SaveFile:
		c.saveFile(log, p)
	case *protocol.CreateNode:
		c.createNode(log, p)
	case *protocol.DeleteNode:
		c.deleteNode(log, p)
	case *protocol.KillProcess:
		c.killProcess(log, p)
	case *protocol.PowerCommand:
		c.powerCommand(log, p)
	default:
		switch msg.Event {
		case protocol.EventGetSystemInfo:
			c.systemInfo()
		case protocol.EventGetProcesses:
			c.listProcesses(log)
		case protocol.EventGetAuditLog:
			c.auditLog()
		}
	}
}

func (c *conn) record(action string) {
	c.srv.config.Audit.Record(action)
}

func (c *conn) systemInfo() {
	info := c.srv.config.SystemInfo()
	c.send(protocol.EventSystemInfo, protocol.SystemInfo{
		Username: info.Username,
		Platform: info.Platform,
		HomeDir:  info.HomeDir,
	})
}

func (c *conn) listFiles(log zerolog.Logger, p *protocol.GetFiles) {
	entries, err := c.srv.config.Files.List(p.Path)
	if err != nil {
		log.Debug().Err(err).Msg("list failed")
		c.fail()
		return
	}
	list := make([]protocol.FileEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, protocol.FileEntry{Name: e.Name, IsDir: e.IsDir, Path: e.Path})
	}
	c.send(protocol.EventFileList, list)
}

func (c *conn) readFile(log zerolog.Logger, p *protocol.ReadFile) {
	content, path, err := c.srv.config.Files.Read(p.FilePath)
	if err != nil {
		log.Debug().Err(err).Msg("read failed")
		c.fail()
		c.send(protocol.EventReadError, protocol.ActionFailed)
		return
	}
	c.send(protocol.EventFileContent, protocol.FileContent{Content: content, Path: path})
}

func (c *conn) saveFile(log zerolog.Logger, p *protocol.SaveFile) {
	if err := c.srv.config.Files.Write(p.FilePath, p.Content); err != nil {
		log.Debug().Err(err).Msg("save failed")
		c.fail()
		return
	}
	c.record(audit.ActionSaveFile)
	c.send(protocol.EventSaveSuccess, protocol.MsgFileSaved)
}

func (c *conn) createNode(log zerolog.Logger, p *protocol.CreateNode) {
	file := p.Type == protocol.NodeFile
	if err := c.srv.config.Files.Create(p.Path, file); err != nil {
		log.Debug().Err(err).Msg("create failed")
		c.fail()
		return
	}
	if file {
		c.record(audit.ActionCreateFile)
	} else {
		c.record(audit.ActionCreateFolder)
	}
	c.send(protocol.EventNodeCreated, protocol.MsgSuccess)
}

func (c *conn) deleteNode(log zerolog.Logger, p *protocol.DeleteNode) {
	if err := c.srv.config.Files.Delete(p.Path); err != nil {
		log.Debug().Err(err).Msg("delete failed")
		c.fail()
		return
	}
	c.record(audit.ActionDeleteNode)
	c.send(protocol.EventNodeDeleted, protocol.MsgSuccess)
}

func (c *conn) listProcesses(log zerolog.Logger) {
	procs, err := hostops.Top(c.ctx, c.srv.config.Processes, hostops.TopProcesses)
	if err != nil {
		log.Debug().Err(err).Msg("process list failed")
		c.fail()
		return
	}
	list := make([]protocol.ProcessEntry, 0, len(procs))
	for _, p := range procs {
		list = append(list, protocol.ProcessEntry{PID: p.PID, Name: p.Name, CPU: p.CPU, Mem: p.Mem})
	}
	c.send(protocol.EventProcessList, list)
}

func (c *conn) killProcess(log zerolog.Logger, p *protocol.KillProcess) {
	pid := *p.PID
	if err := hostops.Kill(pid); err != nil {
		log.Debug().Err(err).Int("pid", pid).Msg("kill failed")
		c.send(protocol.EventProcessKilled, protocol.ProcessKilled{
			Success: false,
			PID:     pid,
			Error:   protocol.ActionFailed,
		})
		return
	}
	c.record(audit.ActionKillProcess)
	c.send(protocol.EventProcessKilled, protocol.ProcessKilled{Success: true, PID: pid})
}

// powerCommand records the action and fires the platform command without
// waiting for it. The command outlives the connection.
func (c *conn) powerCommand(log zerolog.Logger, p *protocol.PowerCommand) {
	argv, ok := hostops.PowerCommand(c.srv.config.GOOS, p.Action)
	if !ok {
		log.Debug().Str("action", p.Action).Msg("unknown power action ignored")
		return
	}
	c.record(audit.PowerAction(p.Action))
	log.Warn().Str("action", p.Action).Msg("power command")

	ctx := context.WithoutCancel(c.ctx)
	go func() {
		if err := c.srv.config.Power.Run(ctx, argv); err != nil {
			log.Error().Err(err).Str("action", p.Action).Msg("power command failed")
			c.fail()
		}
	}()
}

func (c *conn) auditLog() {
	c.send(protocol.EventAuditLog, c.srv.config.Audit.Tail(audit.DefaultTail))
}
