package bot

import "fmt"

const startReply = `🤖 Welcome to the PROCODE AI bot!

To connect your Telegram with the app:

1️⃣ Log in to the PROCODE app
2️⃣ Open the Dashboard
3️⃣ Click "Connect Telegram"
4️⃣ Copy the token and send me the command:
   /connect [your-token]

Once connected you will receive smart notifications tailored to your life context! 🚀`

const connectedReply = `✅ Connected!

Your Telegram is now linked to PROCODE AI.

🤖 You will receive proactive messages based on your life context.

💡 To get the most out of it, fill in your context in the app: My Context.

Welcome to smart notifications! 🚀`

const tokenRejectedReply = "❌ Invalid or expired token. Generate a new one in the app."

const ackOnlyReply = "💬 Got your message! The bot currently focuses on proactive notifications. Full conversations are coming soon."

const genericErrorReply = "❌ Something went wrong. Please try again."

const completionErrorReply = "Sorry, something went wrong while generating a reply. Please try again."

// notConnectedReply includes the raw chat id so the user can self-diagnose
// a broken pairing.
func notConnectedReply(chatID string) string {
	return fmt.Sprintf("🆔 Your Chat ID: %s\n\n❌ Your Telegram is not connected to the app. Send /start for instructions.", chatID)
}
