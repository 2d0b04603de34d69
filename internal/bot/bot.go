// Package bot is the Telegram front door: it hands users a link to the web
// client and relays todo changes to chats that asked for them.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"todo-miniapp/internal/events"
	"todo-miniapp/internal/model"
)

const (
	btnOpenApp    = "Открыть Todo List"
	textGreeting  = "Привет, %s! Я бот для управления задачами. Нажмите кнопку ниже, чтобы открыть список задач:"
	textFailure   = "Произошла ошибка. Пожалуйста, попробуйте позже."
	textUnknown   = "Команда не поддерживается. Загляни в /help."
	textHint      = "Набери /start, чтобы открыть список задач, или /help для списка команд."
	textEmpty     = "Список задач пуст. Добавь первую задачу в приложении."
	textStopped   = "🔕 Уведомления об изменениях отключены. Включить снова: /start"
	textSelected  = "Выбранная опция: %s"
	maxListedTodo = 20
)

// TodoLister is the part of the todo service the bot reads from.
type TodoLister interface {
	List(ctx context.Context) ([]model.Todo, error)
}

// telegramAPI is the subset of *tgbotapi.BotAPI the bot uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot aggregates the Telegram API with the todo service.
type Bot struct {
	api       telegramAPI
	todos     TodoLister
	webAppURL string
	logger    *log.Logger

	mu          sync.Mutex
	subscribers map[int64]struct{}
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// New authorizes against Telegram with token. It does not start polling.
func New(token, webAppURL string, todos TodoLister, logger *log.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	b := newBot(api, webAppURL, todos, logger)
	b.logger.Info("bot authorized", "account", api.Self.UserName)
	return b, nil
}

func newBot(api telegramAPI, webAppURL string, todos TodoLister, logger *log.Logger) *Bot {
	return &Bot{
		api:         api,
		todos:       todos,
		webAppURL:   webAppURL,
		logger:      logger.WithPrefix("bot"),
		subscribers: make(map[int64]struct{}),
	}
}

// Start polls updates until ctx is cancelled or Stop is called.
func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		cancel()
		return errors.New("bot already running")
	}
	b.running = true
	b.cancel = cancel
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	defer func() {
		cancel()
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		close(done)
	}()

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)
	defer b.api.StopReceivingUpdates()

	b.logger.Info("start polling updates")
	b.run(ctx, updates)
	return nil
}

// Stop ends a running Start and waits for it to return.
func (b *Bot) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (b *Bot) run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(update.CallbackQuery); err != nil {
			b.logger.Error("handle callback", "err", err)
			if _, err := b.api.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, textFailure)); err != nil {
				b.logger.Error("callback apology", "err", err)
			}
		}
	case update.Message != nil:
		msg := update.Message
		if msg.Chat == nil {
			return
		}
		if err := b.handleMessage(ctx, msg); err != nil {
			b.logger.Error("handle message", "chat", msg.Chat.ID, "err", err)
			if err := b.sendText(msg.Chat.ID, textFailure); err != nil {
				b.logger.Error("send apology", "chat", msg.Chat.ID, "err", err)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if !msg.IsCommand() {
		return b.sendText(msg.Chat.ID, textHint)
	}

	b.logger.Info("command", "chat", msg.Chat.ID, "command", msg.Command())
	switch msg.Command() {
	case "start":
		return b.handleStart(msg)
	case "help":
		return b.handleHelp(msg)
	case "tasks":
		return b.handleTasks(ctx, msg)
	case "stop":
		b.unsubscribe(msg.Chat.ID)
		return b.sendText(msg.Chat.ID, textStopped)
	default:
		return b.sendText(msg.Chat.ID, textUnknown)
	}
}

func (b *Bot) handleStart(msg *tgbotapi.Message) error {
	b.subscribe(msg.Chat.ID)

	name := ""
	if msg.From != nil {
		name = strings.TrimSpace(msg.From.FirstName)
	}
	if name == "" {
		name = "друг"
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(textGreeting, escape(name)))
	reply.ParseMode = tgbotapi.ModeHTML
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(btnOpenApp, b.webAppURL),
		),
	)
	_, err := b.api.Send(reply)
	return err
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Подсказки</b>\n" +
		"• /start - ссылка на список задач и уведомления об изменениях\n" +
		"• /tasks - последние задачи\n" +
		"• /stop - отключить уведомления\n" +
		"• /help - эта подсказка"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleTasks(ctx context.Context, msg *tgbotapi.Message) error {
	todos, err := b.todos.List(ctx)
	if err != nil {
		return fmt.Errorf("list todos: %w", err)
	}
	if len(todos) == 0 {
		return b.sendText(msg.Chat.ID, textEmpty)
	}

	var sb strings.Builder
	sb.WriteString("📋 <b>Задачи</b>\n")
	for i, todo := range todos {
		if i == maxListedTodo {
			sb.WriteString(fmt.Sprintf("… и ещё %d", len(todos)-maxListedTodo))
			break
		}
		sb.WriteString(formatTodo(todo))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(sb.String()))
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) error {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		return fmt.Errorf("callback ack: %w", err)
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, fmt.Sprintf(textSelected, cb.Data))
	_, err := b.api.Send(edit)
	return err
}

// ForwardEvents relays todo events to subscribed chats until ctx is done or
// the channel closes.
func (b *Bot) ForwardEvents(ctx context.Context, ch <-chan events.TodoEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			text := formatEvent(ev)
			for _, chatID := range b.subscriberIDs() {
				if err := b.sendText(chatID, text); err != nil {
					b.logger.Warn("send notice", "chat", chatID, "err", err)
				}
			}
		}
	}
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) subscribe(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[chatID] = struct{}{}
}

func (b *Bot) unsubscribe(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, chatID)
}

func (b *Bot) subscriberIDs() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int64, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	return ids
}

func formatTodo(todo model.Todo) string {
	icon := "🟢"
	if todo.Completed {
		icon = "✅"
	}
	line := fmt.Sprintf("%s <b>#%d</b> %s\n", icon, todo.ID, escape(todo.Title))
	if todo.Description != nil && strings.TrimSpace(*todo.Description) != "" {
		line += fmt.Sprintf("   📝 %s\n", escape(strings.TrimSpace(*todo.Description)))
	}
	return line
}

func formatEvent(ev events.TodoEvent) string {
	title := escape(ev.Title)
	switch ev.Kind {
	case events.KindCreated:
		return fmt.Sprintf("🆕 Новая задача: <b>%s</b>", title)
	case events.KindUpdated:
		if ev.Completed {
			return fmt.Sprintf("✅ Задача выполнена: <b>%s</b>", title)
		}
		return fmt.Sprintf("✏️ Задача обновлена: <b>%s</b>", title)
	case events.KindDeleted:
		return fmt.Sprintf("🗑 Задача #%d удалена.", ev.TodoID)
	default:
		return fmt.Sprintf("Задача #%d изменена.", ev.TodoID)
	}
}

func escape(s string) string {
	return html.EscapeString(s)
}
